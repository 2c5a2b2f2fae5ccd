package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/openintel/internal/model"
	"github.com/hitoshi/openintel/internal/provider/catalog"
	"github.com/hitoshi/openintel/internal/security"
)

const (
	socialSearcherEndpoint = "https://api.social-searcher.com/v2/search"
	probeUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) OpenIntel/1.0"
	probeConcurrency       = 8
	// maxTitleBytes はタイトル抽出のために読み込むページ先頭のバイト数。
	maxTitleBytes   = 256 << 10
	maxMentions     = 5
	maxMentionRunes = 200
)

// validUsername はハンドル探索で受け付けるユーザー名の形式。
var validUsername = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// HandleProbe はカタログ内の各プラットフォームにプロフィールページが存在するかを並列に確認する。
// 200を返したページを発見として扱い、ページの<title>を添える。
type HandleProbe struct {
	client
	platforms []catalog.Platform
	guard     security.URLGuard
	sanitizer *security.TextSanitizer
	timeout   time.Duration
}

// NewHandleProbe はHandleProbeアダプターを生成する。
// deps.HTTPClientには通常URLGuard.NewSafeClientで生成したクライアントを渡す。
func NewHandleProbe(platforms []catalog.Platform, guard security.URLGuard, sanitizer *security.TextSanitizer, timeout time.Duration, deps Deps) *HandleProbe {
	return &HandleProbe{
		client:    newClient("handle-probe", rate.Every(50*time.Millisecond), max(len(platforms), 1), deps),
		platforms: platforms,
		guard:     guard,
		sanitizer: sanitizer,
		timeout:   timeout,
	}
}

func (a *HandleProbe) Name() string               { return a.name }
func (a *HandleProbe) Kind() model.IdentifierKind { return model.KindUsername }
func (a *HandleProbe) Category() model.Category   { return model.CategoryHandles }
func (a *HandleProbe) Timeout() time.Duration     { return a.timeout }

// Lookup は全プラットフォームを探索し、発見したプロフィールをプラットフォーム名順に返す。
// 個々の探索の失敗は未発見として扱う。
func (a *HandleProbe) Lookup(ctx context.Context, username string) (model.Payload, error) {
	if !validUsername.MatchString(username) {
		return model.Payload{}, model.Skip("unsupported username format")
	}

	found := make([]*model.Profile, len(a.platforms))
	checked := make([]bool, len(a.platforms))

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, p := range a.platforms {
		profileURL := p.ProfileURL(username)
		if err := a.guard.ValidateURL(profileURL); err != nil {
			a.logger.Warn("探索先URLが拒否されました",
				slog.String("platform", p.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checked[i] = true
		g.Go(func() error {
			found[i] = a.probe(ctx, p.Name, profileURL)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return model.Payload{}, err
	}

	payload := &model.HandlesPayload{Found: []model.Profile{}}
	for i := range a.platforms {
		if checked[i] {
			payload.Checked++
		}
		if found[i] != nil {
			payload.Found = append(payload.Found, *found[i])
		}
	}
	sort.Slice(payload.Found, func(i, j int) bool { return payload.Found[i].Platform < payload.Found[j].Platform })

	return model.Payload{Handles: payload}, nil
}

// probe は1つのプロフィールURLを取得する。見つからない場合はnilを返す。
func (a *HandleProbe) probe(ctx context.Context, platform, profileURL string) *model.Profile {
	header := http.Header{}
	header.Set("User-Agent", probeUserAgent)

	resp, err := a.get(ctx, profileURL, header)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTitleBytes))
		return nil
	}

	title := a.sanitizer.Text(pageTitle(io.LimitReader(resp.Body, maxTitleBytes)))
	return &model.Profile{Platform: platform, URL: profileURL, Title: title}
}

// pageTitle はHTML文書の最初の<title>要素のテキストを返す。
func pageTitle(r io.Reader) string {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return string(z.Text())
			}
			return ""
		}
	}
}

// SocialSearcher はSocial Searcherの言及検索アダプター。
type SocialSearcher struct {
	client
	apiKey    string
	sanitizer *security.TextSanitizer
	timeout   time.Duration
	endpoint  string
}

// NewSocialSearcher はSocialSearcherアダプターを生成する。
func NewSocialSearcher(apiKey string, sanitizer *security.TextSanitizer, timeout time.Duration, deps Deps) *SocialSearcher {
	return &SocialSearcher{
		client:    newClient("social-searcher", rate.Every(2*time.Second), 2, deps),
		apiKey:    apiKey,
		sanitizer: sanitizer,
		timeout:   timeout,
		endpoint:  socialSearcherEndpoint,
	}
}

func (a *SocialSearcher) Name() string               { return a.name }
func (a *SocialSearcher) Kind() model.IdentifierKind { return model.KindUsername }
func (a *SocialSearcher) Category() model.Category   { return model.CategoryNews }
func (a *SocialSearcher) Timeout() time.Duration     { return a.timeout }

// Lookup はユーザー名への言及を最大5件取得する。
func (a *SocialSearcher) Lookup(ctx context.Context, username string) (model.Payload, error) {
	if a.apiKey == "" {
		return model.Payload{}, errNoAPIKey
	}

	q := url.Values{}
	q.Set("q", username)
	q.Set("key", a.apiKey)

	var body struct {
		Posts []struct {
			Text    string `json:"text"`
			URL     string `json:"url"`
			Network string `json:"network"`
		} `json:"posts"`
	}
	status, err := a.getJSON(ctx, a.endpoint+"?"+q.Encode(), nil, &body)
	if err != nil {
		return model.Payload{}, err
	}
	if status != http.StatusOK {
		return model.Payload{}, a.statusError(status)
	}

	articles := []model.Article{}
	for _, p := range body.Posts {
		if len(articles) == maxMentions {
			break
		}
		if p.URL == "" {
			continue
		}
		articles = append(articles, model.Article{
			Title:  truncateRunes(a.sanitizer.Text(p.Text), maxMentionRunes),
			URL:    p.URL,
			Source: p.Network,
		})
	}
	return model.Payload{News: &model.NewsPayload{Articles: articles}}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
