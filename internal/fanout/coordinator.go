// Package fanout は1つのクエリを複数のプロバイダーへ並列に問い合わせ、
// 全呼び出しの完了（成功・見送り・失敗）を待ってSignalBundleにまとめる。
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/openintel/internal/metrics"
	"github.com/hitoshi/openintel/internal/model"
)

// DefaultTimeout はアダプターがタイムアウトを指定しない場合の呼び出し上限。
const DefaultTimeout = 8 * time.Second

// Adapter は1つの外部データソースへの問い合わせを表す。
// 実装は識別子1つを受け取り、カテゴリに対応するPayloadまたはエラーを返す。
// model.Skipで生成したエラーは見送りとして扱われる。
type Adapter interface {
	// Name はプロバイダー名を返す（例: "hibp"）。
	Name() string
	// Kind は対象とする識別子の種類を返す。
	Kind() model.IdentifierKind
	// Category は返すシグナルの分類を返す。
	Category() model.Category
	// Timeout は1回の呼び出しの上限時間を返す。0以下の場合はコーディネーターのデフォルトを使う。
	Timeout() time.Duration
	// Lookup は識別子について問い合わせる。
	Lookup(ctx context.Context, identifier string) (model.Payload, error)
}

// Coordinator はアダプター群へのファンアウトを行う。
type Coordinator struct {
	adapters       []Adapter
	defaultTimeout time.Duration
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	tracer         trace.Tracer
}

// Option はCoordinatorの生成オプション。
type Option func(*Coordinator)

// WithDefaultTimeout はデフォルトの呼び出し上限時間を設定する。
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer はトレーサーを設定する。
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// NewCoordinator は新しいCoordinatorを生成する。
func NewCoordinator(adapters []Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		adapters:       adapters,
		defaultTimeout: DefaultTimeout,
		logger:         slog.Default(),
		metrics:        metrics.Nop{},
		tracer:         otel.Tracer("github.com/hitoshi/openintel/internal/fanout"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call はファンアウト対象の1呼び出し。
type call struct {
	adapter    Adapter
	identifier string
}

// Fanout は指定された識別子に対応する全アダプターを並列に呼び出し、
// すべての呼び出しが確定するまで待ってSignalBundleを返す。
//
// 各呼び出しはctxのキャンセルから切り離されて実行されるため、
// 呼び出し元が待機を止めても進行中の問い合わせは完了まで続く。
// 識別子が1つもない場合、または対応するアダプターがない場合はErrInvalidQueryを返す。
func (c *Coordinator) Fanout(ctx context.Context, ids model.Identifiers) (*model.SignalBundle, error) {
	present := ids.Present()
	if len(present) == 0 {
		return nil, model.ErrInvalidQuery
	}

	var calls []call
	for _, kind := range present {
		for _, a := range c.adapters {
			if a.Kind() == kind {
				calls = append(calls, call{adapter: a, identifier: ids.Get(kind)})
			}
		}
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("no provider for %v: %w", present, model.ErrInvalidQuery)
	}

	detached := context.WithoutCancel(ctx)
	results := make([]model.ProviderResult, len(calls))

	var g errgroup.Group
	for i, cl := range calls {
		g.Go(func() error {
			results[i] = c.invoke(detached, cl)
			return nil
		})
	}
	// 各関数は常にnilを返すため、Waitは全呼び出しの完了を待つだけになる
	_ = g.Wait()

	return model.NewSignalBundle(results, ""), nil
}

// outcome はアダプター呼び出しの戻り値。
type outcome struct {
	payload model.Payload
	err     error
}

// invoke は1つのアダプターをタイムアウト付きで呼び出し、結果をProviderResultに変換する。
func (c *Coordinator) invoke(ctx context.Context, cl call) model.ProviderResult {
	a := cl.adapter
	timeout := a.Timeout()
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	ctx, span := c.tracer.Start(ctx, "provider."+a.Name(), trace.WithAttributes(
		attribute.String("provider.name", a.Name()),
		attribute.String("provider.category", string(a.Category())),
		attribute.String("identifier.kind", string(a.Kind())),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	// アダプターがctxを無視しても呼び出し側が待ち続けないよう、別ゴルーチンで実行する
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		payload, err := a.Lookup(callCtx, cl.identifier)
		done <- outcome{payload: payload, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}
	elapsed := time.Since(start)

	result := c.classify(a, out, elapsed)

	span.SetAttributes(attribute.String("provider.status", string(result.Status)))
	if result.Status == model.StatusFailed {
		span.SetStatus(codes.Error, result.Error)
		c.logger.Warn("プロバイダー呼び出しに失敗しました",
			slog.String("provider", a.Name()),
			slog.String("error", result.Error),
			slog.Duration("elapsed", elapsed),
		)
	} else {
		c.logger.Debug("プロバイダー呼び出しが完了しました",
			slog.String("provider", a.Name()),
			slog.String("status", string(result.Status)),
			slog.Duration("elapsed", elapsed),
		)
	}
	c.metrics.RecordProviderCall(a.Name(), string(result.Status), elapsed)

	return result
}

// classify は呼び出し結果を成功・見送り・失敗に分類する。
func (c *Coordinator) classify(a Adapter, out outcome, elapsed time.Duration) model.ProviderResult {
	var skip *model.SkipError
	switch {
	case out.err == nil:
		return model.Success(a.Name(), a.Category(), out.payload, elapsed)
	case errors.As(out.err, &skip):
		return model.Skipped(a.Name(), a.Category(), skip.Reason, elapsed)
	case errors.Is(out.err, context.DeadlineExceeded):
		return model.Failed(a.Name(), a.Category(), "timeout", elapsed)
	default:
		return model.Failed(a.Name(), a.Category(), out.err.Error(), elapsed)
	}
}

// Adapters は登録されているアダプターの一覧を返す。
func (c *Coordinator) Adapters() []Adapter {
	out := make([]Adapter, len(c.adapters))
	copy(out, c.adapters)
	return out
}
