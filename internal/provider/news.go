package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/openintel/internal/model"
	"github.com/hitoshi/openintel/internal/security"
)

const (
	newsAPIEndpoint = "https://newsapi.org/v2/everything"
	newsRSSEndpoint = "https://news.google.com/rss/search"
	maxArticles     = 10
)

// NewsAPI はNewsAPIの記事検索アダプター。
type NewsAPI struct {
	client
	apiKey    string
	sanitizer *security.TextSanitizer
	timeout   time.Duration
	endpoint  string
}

// NewNewsAPI はNewsAPIアダプターを生成する。
func NewNewsAPI(apiKey string, sanitizer *security.TextSanitizer, timeout time.Duration, deps Deps) *NewsAPI {
	return &NewsAPI{
		client:    newClient("newsapi", rate.Every(time.Second), 2, deps),
		apiKey:    apiKey,
		sanitizer: sanitizer,
		timeout:   timeout,
		endpoint:  newsAPIEndpoint,
	}
}

func (a *NewsAPI) Name() string               { return a.name }
func (a *NewsAPI) Kind() model.IdentifierKind { return model.KindName }
func (a *NewsAPI) Category() model.Category   { return model.CategoryNews }
func (a *NewsAPI) Timeout() time.Duration     { return a.timeout }

// Lookup は氏名を含む記事を最大10件取得する。
func (a *NewsAPI) Lookup(ctx context.Context, name string) (model.Payload, error) {
	if a.apiKey == "" {
		return model.Payload{}, errNoAPIKey
	}

	q := url.Values{}
	q.Set("q", `"`+name+`"`)
	q.Set("pageSize", fmt.Sprint(maxArticles))
	q.Set("sortBy", "publishedAt")
	header := http.Header{}
	header.Set("X-Api-Key", a.apiKey)

	var body struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			Title  string `json:"title"`
			URL    string `json:"url"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			PublishedAt string `json:"publishedAt"`
		} `json:"articles"`
	}
	status, err := a.getJSON(ctx, a.endpoint+"?"+q.Encode(), header, &body)
	if err != nil {
		return model.Payload{}, err
	}
	if status != http.StatusOK {
		return model.Payload{}, a.statusError(status)
	}
	if body.Status != "" && body.Status != "ok" {
		return model.Payload{}, fmt.Errorf("newsapi がエラーを返しました: %s", body.Message)
	}

	articles := []model.Article{}
	for _, art := range body.Articles {
		if len(articles) == maxArticles {
			break
		}
		article := model.Article{
			Title:  a.sanitizer.Text(art.Title),
			URL:    art.URL,
			Source: art.Source.Name,
		}
		if t, err := time.Parse(time.RFC3339, art.PublishedAt); err == nil {
			article.PublishedAt = t.UTC()
		}
		articles = append(articles, article)
	}
	return model.Payload{News: &model.NewsPayload{Articles: articles}}, nil
}

// NewsRSS はGoogle NewsのRSS検索アダプター。APIキーは不要。
type NewsRSS struct {
	client
	sanitizer *security.TextSanitizer
	timeout   time.Duration
	endpoint  string
}

// NewNewsRSS はNewsRSSアダプターを生成する。
func NewNewsRSS(sanitizer *security.TextSanitizer, timeout time.Duration, deps Deps) *NewsRSS {
	return &NewsRSS{
		client:    newClient("news-rss", rate.Every(time.Second), 2, deps),
		sanitizer: sanitizer,
		timeout:   timeout,
		endpoint:  newsRSSEndpoint,
	}
}

func (a *NewsRSS) Name() string               { return a.name }
func (a *NewsRSS) Kind() model.IdentifierKind { return model.KindName }
func (a *NewsRSS) Category() model.Category   { return model.CategoryNews }
func (a *NewsRSS) Timeout() time.Duration     { return a.timeout }

// Lookup は氏名のニュース検索フィードを取得し、先頭10件を返す。
// 見出しの末尾 " - 媒体名" は媒体名として分離する。
func (a *NewsRSS) Lookup(ctx context.Context, name string) (model.Payload, error) {
	q := url.Values{}
	q.Set("q", `"`+name+`"`)
	q.Set("hl", "en-US")
	q.Set("gl", "US")
	q.Set("ceid", "US:en")

	resp, err := a.get(ctx, a.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return model.Payload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return model.Payload{}, a.statusError(resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.Payload{}, fmt.Errorf("ニュースフィードのパースに失敗しました: %w", err)
	}

	articles := []model.Article{}
	for _, item := range feed.Items {
		if len(articles) == maxArticles {
			break
		}
		if item.Link == "" {
			continue
		}
		title, source := splitHeadline(a.sanitizer.Text(item.Title))
		art := model.Article{Title: title, URL: item.Link, Source: source}
		if item.PublishedParsed != nil {
			art.PublishedAt = item.PublishedParsed.UTC()
		}
		articles = append(articles, art)
	}
	return model.Payload{News: &model.NewsPayload{Articles: articles}}, nil
}

// splitHeadline は "見出し - 媒体名" を見出しと媒体名に分ける。
func splitHeadline(s string) (title, source string) {
	i := strings.LastIndex(s, " - ")
	if i <= 0 || i+3 >= len(s) {
		return s, ""
	}
	return s[:i], s[i+3:]
}
