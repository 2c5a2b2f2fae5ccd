package model

import (
	"sort"
	"strings"
)

// 評判ラベル。malicious > suspicious > その他 の順に深刻度が高い。
const (
	ReputationMalicious  = "malicious"
	ReputationSuspicious = "suspicious"
)

// GravatarPlatform はアバター検出時に追加されるプロフィールのプラットフォーム名。
const GravatarPlatform = "Gravatar"

// SignalBundle は1回のファンアウトで得られた全プロバイダー結果。
// ファンアウトが1度だけ構築し、以降は変更しない。
type SignalBundle struct {
	Results         map[Category][]ProviderResult `json:"results"`
	DerivedUsername string                        `json:"derived_username,omitempty"`
}

// StatusCounts は結果状態ごとの件数。
type StatusCounts struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// NewSignalBundle は結果一覧からカテゴリ別のSignalBundleを構築する。
// 同一カテゴリ内はプロバイダー名順に並べる。
func NewSignalBundle(results []ProviderResult, derivedUsername string) *SignalBundle {
	grouped := make(map[Category][]ProviderResult)
	for _, r := range results {
		grouped[r.Category] = append(grouped[r.Category], r)
	}
	for c := range grouped {
		rs := grouped[c]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Provider < rs[j].Provider })
	}
	return &SignalBundle{Results: grouped, DerivedUsername: derivedUsername}
}

// successes は指定カテゴリの成功結果を返す。
func (b *SignalBundle) successes(c Category) []ProviderResult {
	if b == nil {
		return nil
	}
	var out []ProviderResult
	for _, r := range b.Results[c] {
		if r.Status == StatusSuccess {
			out = append(out, r)
		}
	}
	return out
}

// BreachCount は成功したbreach結果のうち最大の侵害件数を返す。
// 複数のプロバイダーが同じ侵害を報告するため合算はしない。
func (b *SignalBundle) BreachCount() int {
	max := 0
	for _, r := range b.successes(CategoryBreach) {
		if r.Payload.Breach != nil && r.Payload.Breach.Count > max {
			max = r.Payload.Breach.Count
		}
	}
	return max
}

// Profiles は発見された公開プロフィールを返す。
// プラットフォーム名（大文字小文字無視）とURLで重複を除き、プラットフォーム名順に並べる。
func (b *SignalBundle) Profiles() []Profile {
	seen := make(map[string]bool)
	var profiles []Profile
	add := func(p Profile) {
		key := strings.ToLower(p.Platform) + "\x00" + p.URL
		if seen[key] {
			return
		}
		seen[key] = true
		profiles = append(profiles, p)
	}

	for _, r := range b.successes(CategoryHandles) {
		if r.Payload.Handles == nil {
			continue
		}
		for _, p := range r.Payload.Handles.Found {
			add(p)
		}
	}
	for _, r := range b.successes(CategoryIdentity) {
		if r.Payload.Avatar != nil && r.Payload.Avatar.Exists {
			add(Profile{Platform: GravatarPlatform, URL: r.Payload.Avatar.URL})
		}
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		pi, pj := strings.ToLower(profiles[i].Platform), strings.ToLower(profiles[j].Platform)
		if pi != pj {
			return pi < pj
		}
		return profiles[i].URL < profiles[j].URL
	})
	return profiles
}

// Reputation は成功したreputation結果のうち最も深刻なラベルを返す。
// 結果がない場合は空文字列を返す。
func (b *SignalBundle) Reputation() string {
	best := ""
	for _, r := range b.successes(CategoryReputation) {
		if r.Payload.Reputation == nil {
			continue
		}
		label := strings.ToLower(r.Payload.Reputation.Label)
		if reputationRank(label) > reputationRank(best) || best == "" {
			best = label
		}
	}
	return best
}

func reputationRank(label string) int {
	switch label {
	case ReputationMalicious:
		return 2
	case ReputationSuspicious:
		return 1
	default:
		return 0
	}
}

// Articles は成功したnews結果の記事をURLで重複除去して返す。
// URLを持たない記事は重複除去の対象にせず、すべて残す。
func (b *SignalBundle) Articles() []Article {
	seen := make(map[string]bool)
	var out []Article
	for _, r := range b.successes(CategoryNews) {
		if r.Payload.News == nil {
			continue
		}
		for _, a := range r.Payload.News.Articles {
			if a.URL == "" {
				out = append(out, a)
				continue
			}
			if seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			out = append(out, a)
		}
	}
	return out
}

// Counts は結果状態ごとの件数を返す。
func (b *SignalBundle) Counts() StatusCounts {
	var c StatusCounts
	if b == nil {
		return c
	}
	for _, rs := range b.Results {
		for _, r := range rs {
			switch r.Status {
			case StatusSuccess:
				c.Succeeded++
			case StatusSkipped:
				c.Skipped++
			case StatusFailed:
				c.Failed++
			}
		}
	}
	return c
}
