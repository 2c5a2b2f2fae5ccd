package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/openintel/internal/metrics"
	"github.com/hitoshi/openintel/internal/model"
)

// DefaultTimeout は1件の監査ログ書き込みの上限時間。
const DefaultTimeout = 3 * time.Second

// Recorder は監査ログを非同期に書き込む。
// 書き込みの失敗はログとメトリクスに記録し、呼び出し元には伝えない。
type Recorder struct {
	repo    Repository
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	wg sync.WaitGroup
}

// NewRecorder は新しいRecorderを生成する。
// timeoutが0以下の場合はDefaultTimeoutを使用する。
func NewRecorder(repo Repository, timeout time.Duration, logger *slog.Logger, m metrics.MetricsCollector) *Recorder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Recorder{
		repo:    repo,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Record はレポートの監査ログをバックグラウンドで書き込む。呼び出しは即座に返る。
func (r *Recorder) Record(report *model.Report) {
	rec := NewRecord(report)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.repo.Insert(ctx, rec); err != nil {
			r.metrics.RecordAuditFailure()
			r.logger.Error("監査ログの永続化に失敗しました",
				slog.String("record_id", rec.ID),
				slog.String("search_type", rec.SearchType),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait は実行中の書き込みがすべて終わるまで待つ。シャットダウン時に使用する。
func (r *Recorder) Wait() {
	r.wg.Wait()
}
