// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ファンアウト、キャッシュ、パイプライン、プロバイダークライアントから利用する。
type MetricsCollector interface {
	RecordProviderCall(provider, status string, duration time.Duration)
	RecordProviderHTTPStatus(provider string, statusCode int)
	RecordCacheHit(tier string)
	RecordCacheMiss()
	RecordRateLimited()
	RecordReport(tier string, duration time.Duration)
	RecordAuditFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerStatus  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     prometheus.Counter
	rateLimited     prometheus.Counter
	reports         *prometheus.CounterVec
	reportLatency   prometheus.Histogram
	auditFailures   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openintel_provider_calls_total",
			Help: "プロバイダー呼び出しの結果状態別の合計数",
		}, []string{"provider", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openintel_provider_latency_seconds",
			Help:    "プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openintel_provider_http_status_total",
			Help: "プロバイダーAPIのHTTPステータスコード別のレスポンス数",
		}, []string{"provider", "status_code"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openintel_cache_hits_total",
			Help: "キャッシュヒットの合計数（層別）",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openintel_cache_misses_total",
			Help: "キャッシュミスの合計数",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openintel_rate_limited_total",
			Help: "レート制限により拒否されたリクエストの合計数",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openintel_reports_total",
			Help: "新規生成されたレポートのリスク区分別の合計数",
		}, []string{"tier"}),
		reportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "openintel_report_latency_seconds",
			Help:    "レポート生成（ファンアウトからスコア算出まで）のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openintel_audit_failures_total",
			Help: "監査ログ永続化失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.providerCalls,
		c.providerLatency,
		c.providerStatus,
		c.cacheHits,
		c.cacheMisses,
		c.rateLimited,
		c.reports,
		c.reportLatency,
		c.auditFailures,
	)

	return c
}

// RecordProviderCall はプロバイダー呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(provider, status string, duration time.Duration) {
	c.providerCalls.WithLabelValues(provider, status).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordProviderHTTPStatus はプロバイダーAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderHTTPStatus(provider string, statusCode int) {
	c.providerStatus.WithLabelValues(provider, strconv.Itoa(statusCode)).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。tierは"memory"または"redis"。
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordReport は新規レポートの生成を記録する。
func (c *Collector) RecordReport(tier string, duration time.Duration) {
	c.reports.WithLabelValues(tier).Inc()
	c.reportLatency.Observe(duration.Seconds())
}

// RecordAuditFailure は監査ログ永続化の失敗を記録する。
func (c *Collector) RecordAuditFailure() {
	c.auditFailures.Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス未構成時とテストで使用する。
type Nop struct{}

// RecordProviderCall は何もしない。
func (Nop) RecordProviderCall(string, string, time.Duration) {}

// RecordProviderHTTPStatus は何もしない。
func (Nop) RecordProviderHTTPStatus(string, int) {}

// RecordCacheHit は何もしない。
func (Nop) RecordCacheHit(string) {}

// RecordCacheMiss は何もしない。
func (Nop) RecordCacheMiss() {}

// RecordRateLimited は何もしない。
func (Nop) RecordRateLimited() {}

// RecordReport は何もしない。
func (Nop) RecordReport(string, time.Duration) {}

// RecordAuditFailure は何もしない。
func (Nop) RecordAuditFailure() {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
