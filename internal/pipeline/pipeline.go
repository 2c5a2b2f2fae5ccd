// Package pipeline は調査要求をアドミッション判定、キャッシュ参照、ファンアウト、
// スコア算出、キャッシュ保存の順に処理してレポートを生成する。
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/openintel/internal/metrics"
	"github.com/hitoshi/openintel/internal/model"
	"github.com/hitoshi/openintel/internal/ratelimit"
	"github.com/hitoshi/openintel/internal/risk"
)

// Admitter はクライアント単位のアドミッション判定のインターフェース。
type Admitter interface {
	Admit(clientKey string) ratelimit.Decision
}

// ReportCache はレポートキャッシュのインターフェース。
type ReportCache interface {
	Get(ctx context.Context, fingerprint string) (*model.Report, bool)
	Put(ctx context.Context, fingerprint string, report *model.Report, ttl time.Duration)
}

// Fanouter はプロバイダーへのファンアウトのインターフェース。
type Fanouter interface {
	Fanout(ctx context.Context, ids model.Identifiers) (*model.SignalBundle, error)
}

// Auditor は監査ログ記録のインターフェース。
// 実装は呼び出し元を待たせてはならず、失敗を呼び出し元に返さない。
type Auditor interface {
	Record(report *model.Report)
}

// ScoreFunc はSignalBundleからリスク評価を算出する関数。
type ScoreFunc func(b *model.SignalBundle) model.RiskAssessment

// Pipeline は調査要求の処理を統括する。
type Pipeline struct {
	limiter Admitter
	cache   ReportCache
	fanout  Fanouter
	score   ScoreFunc
	auditor Auditor
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	inflight singleflight.Group
	// pending は呼び出し元が待機をやめた後も完了していない生成処理を数える
	pending sync.WaitGroup
}

// Option はPipelineの生成オプション。
type Option func(*Pipeline)

// WithAuditor は監査ログの記録先を設定する。
func WithAuditor(a Auditor) Option {
	return func(p *Pipeline) {
		p.auditor = a
	}
}

// WithScoreFunc はスコア算出関数を差し替える。
func WithScoreFunc(f ScoreFunc) Option {
	return func(p *Pipeline) {
		p.score = f
	}
}

// WithCacheTTL はキャッシュ保存時の有効期間を設定する。
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.ttl = ttl
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New は新しいPipelineを生成する。
func New(limiter Admitter, cache ReportCache, fanout Fanouter, opts ...Option) *Pipeline {
	p := &Pipeline{
		limiter: limiter,
		cache:   cache,
		fanout:  fanout,
		score:   risk.Score,
		logger:  slog.Default(),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle は調査要求を処理してレポートを返す。
//
// 処理順序: アドミッション判定 → キャッシュ参照 → ファンアウト → スコア算出 → キャッシュ保存。
// キャッシュヒット時はファンアウト・スコア算出・キャッシュ保存・監査記録のいずれも行わない。
// 同じフィンガープリントの要求が同時に来た場合、ファンアウトは1回だけ実行される。
//
// 拒否時は*model.RateLimitError、適用可能なプロバイダーがない場合はmodel.ErrInvalidQueryを返す。
// ctxがキャンセルされても進行中のファンアウトは完了し、結果はキャッシュされる。
func (p *Pipeline) Handle(ctx context.Context, q model.Query) (*model.Report, error) {
	decision := p.limiter.Admit(q.ClientKey())
	if !decision.Allowed {
		p.metrics.RecordRateLimited()
		p.logger.Warn("rate limit exceeded",
			slog.String("client_key", q.ClientKey()),
			slog.Duration("retry_after", decision.RetryAfter),
		)
		return nil, &model.RateLimitError{ClientKey: q.ClientKey(), RetryAfter: decision.RetryAfter}
	}

	fingerprint := q.Fingerprint()
	if report, ok := p.cache.Get(ctx, fingerprint); ok {
		return report, nil
	}

	ch := make(chan singleflight.Result, 1)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		v, err, shared := p.inflight.Do(fingerprint, func() (any, error) {
			return p.build(context.WithoutCancel(ctx), q, fingerprint)
		})
		ch <- singleflight.Result{Val: v, Err: err, Shared: shared}
	}()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Report), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait は進行中のレポート生成がすべて完了するまで待機する。
// シャットダウン時、新規の要求が止まった後に呼び出す。
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// build はキャッシュミス時にレポートを新規生成する。singleflightの先頭の呼び出しでのみ実行される。
func (p *Pipeline) build(ctx context.Context, q model.Query, fingerprint string) (*model.Report, error) {
	// 待機中に別の呼び出しがキャッシュを埋めている可能性がある
	if report, ok := p.cache.Get(ctx, fingerprint); ok {
		return report, nil
	}

	start := p.now()

	ids, derived := chainIdentifiers(q.Identifiers())
	if derived != "" {
		p.logger.Debug("メールアドレスからユーザー名を抽出しました", slog.String("username", derived))
	}

	bundle, err := p.fanout.Fanout(ctx, ids)
	if err != nil {
		return nil, err
	}
	bundle.DerivedUsername = derived

	assessment := p.score(bundle)
	profiles := bundle.Profiles()
	breachCount := bundle.BreachCount()

	report := &model.Report{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		Target:      q.Target(),
		SearchType:  q.Kind(),
		Bundle:      bundle,
		Profiles:    profiles,
		BreachCount: breachCount,
		Reputation:  bundle.Reputation(),
		Assessment:  assessment,
		Summary:     model.Summarize(len(profiles), breachCount),
		GeneratedAt: p.now().UTC(),
		Disclaimer:  model.Disclaimer,
	}

	p.cache.Put(ctx, fingerprint, report, p.ttl)

	elapsed := p.now().Sub(start)
	p.metrics.RecordReport(string(assessment.Tier), elapsed)
	p.logger.Info("調査レポートを生成しました",
		slog.String("report_id", report.ID),
		slog.String("search_type", string(report.SearchType)),
		slog.Int("risk_score", assessment.Score),
		slog.String("risk_tier", string(assessment.Tier)),
		slog.Duration("elapsed", elapsed),
	)

	if p.auditor != nil {
		p.auditor.Record(report)
	}

	return report, nil
}

// chainIdentifiers はメールアドレスがありユーザー名がない場合に、
// ローカル部をユーザー名としてファンアウト対象に加える。
// 戻り値の2つ目は派生したユーザー名（派生しなかった場合は空文字列）。
func chainIdentifiers(ids model.Identifiers) (model.Identifiers, string) {
	if ids.Email == "" || ids.Username != "" {
		return ids, ""
	}
	derived := model.DeriveUsername(ids.Email)
	if derived == "" {
		return ids, ""
	}
	ids.Username = derived
	return ids, derived
}
