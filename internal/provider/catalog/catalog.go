// Package catalog はハンドル探索の対象プラットフォーム一覧を提供する。
package catalog

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var defaultCatalog []byte

const placeholder = "{username}"

// Platform はプロフィールURLのテンプレートを持つプラットフォーム。
type Platform struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ProfileURL はユーザー名を埋め込んだプロフィールURLを返す。
func (p Platform) ProfileURL(username string) string {
	return strings.ReplaceAll(p.URL, placeholder, url.PathEscape(username))
}

type document struct {
	Platforms []Platform `yaml:"platforms"`
}

// Default は埋め込みの既定カタログを返す。
func Default() ([]Platform, error) {
	return Parse(defaultCatalog)
}

// Parse はYAML形式のカタログを読み込む。
// 名前が空、またはURLに {username} を含まない項目はエラーとする。
func Parse(data []byte) ([]Platform, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("プラットフォーム一覧のパースに失敗しました: %w", err)
	}
	if len(doc.Platforms) == 0 {
		return nil, fmt.Errorf("プラットフォーム一覧が空です")
	}
	for i, p := range doc.Platforms {
		if p.Name == "" {
			return nil, fmt.Errorf("platforms[%d]: name がありません", i)
		}
		if !strings.Contains(p.URL, placeholder) {
			return nil, fmt.Errorf("platforms[%d] (%s): url に %s がありません", i, p.Name, placeholder)
		}
	}
	return doc.Platforms, nil
}
