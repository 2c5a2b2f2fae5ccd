// Package provider は外部データソースへのアダプターを提供する。
// 各アダプターはfanout.Adapterを実装し、1つの識別子について1回問い合わせる。
// APIキーが未設定の場合は問い合わせを行わずに見送る。
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/hitoshi/openintel/internal/metrics"
	"github.com/hitoshi/openintel/internal/model"
)

const (
	userAgent = "OpenIntel/1.0 (+public-source aggregation)"
	// maxBodySize はプロバイダー応答として読み込む最大バイト数。
	maxBodySize = 2 << 20
)

// errNoAPIKey はAPIキー未設定時の見送り理由。
var errNoAPIKey = model.Skip("no API key")

// Deps はアダプターが共有する依存関係。
type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    metrics.MetricsCollector
}

// NewHTTPClient はOpenTelemetryの計装付きトランスポートを持つHTTPクライアントを生成する。
// 呼び出しごとの上限時間は別途コンテキストで与える。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// client はアダプター共通のHTTP呼び出し処理。
// プロバイダーごとの送信レートを制限し、ステータスコードをメトリクスに記録する。
type client struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

func newClient(name string, limit rate.Limit, burst int, deps Deps) client {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return client{
		name:       name,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		metrics:    m,
	}
}

// do は送信レートの枠を待ってからリクエストを送信する。
// 枠を待つ間にコンテキストの期限を超える場合は待たずにエラーを返す。
// 429/5xxの応答はコンテキストの期限内に収まる場合に限り1回だけ再送する。
func (c *client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s の送信レート待機に失敗しました: %w", c.name, err)
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			c.logger.Warn("プロバイダーAPIの呼び出しに失敗しました",
				slog.String("provider", c.name),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		c.metrics.RecordProviderHTTPStatus(c.name, resp.StatusCode)

		delay, retry := shouldRetry(ctx, req, resp, attempt)
		if !retry {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()

		c.logger.Info("プロバイダーAPIを再送します",
			slog.String("provider", c.name),
			slog.Int("status", resp.StatusCode),
			slog.Duration("delay", delay),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// get はGETリクエストを送信する。
func (c *client) get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.do(ctx, req)
}

// getJSON はGETリクエストを送信し、200の応答をoutにデコードする。
// 200以外の場合はステータスコードを返し、outには触れない。
func (c *client) getJSON(ctx context.Context, rawURL string, header http.Header, out any) (int, error) {
	resp, err := c.get(ctx, rawURL, header)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		c.logger.Warn("プロバイダーAPIのレスポンスのパースに失敗しました",
			slog.String("provider", c.name),
			slog.String("error", err.Error()),
		)
		return resp.StatusCode, fmt.Errorf("%s のレスポンスJSONのパースに失敗しました: %w", c.name, err)
	}
	return resp.StatusCode, nil
}

// statusError は想定外のHTTPステータスを表すエラーを生成する。
func (c *client) statusError(status int) error {
	c.logger.Warn("プロバイダーAPIがエラーステータスを返しました",
		slog.String("provider", c.name),
		slog.Int("http_status", status),
	)
	return fmt.Errorf("%s がステータス %d を返しました", c.name, status)
}
