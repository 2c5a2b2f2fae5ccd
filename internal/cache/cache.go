// Package cache はクエリフィンガープリントをキーとしたレポートキャッシュを提供する。
// メモリ上のLRU（第1層）と、任意のRedis等のバックエンド（第2層）で構成される。
package cache

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/openintel/internal/metrics"
	"github.com/hitoshi/openintel/internal/model"
)

// ErrMiss はバックエンドにエントリが存在しないことを示す。
var ErrMiss = errors.New("cache miss")

// Backend は第2層キャッシュのインターフェース。
type Backend interface {
	// Load はエントリと有効期限を返す。存在しない場合はErrMissを返す。
	Load(ctx context.Context, key string) (*model.Report, time.Time, error)
	// Store はエントリを有効期限付きで保存する。
	Store(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error
}

// Config はキャッシュの設定を保持する。
type Config struct {
	TTL             time.Duration // デフォルトのエントリ有効期間
	Capacity        int           // メモリ上に保持する最大エントリ数
	JanitorInterval time.Duration // 期限切れエントリの掃除間隔
}

// DefaultConfig はデフォルトのキャッシュ設定を返す。
// 有効期間600秒、最大1000エントリ。
func DefaultConfig() Config {
	return Config{
		TTL:             600 * time.Second,
		Capacity:        1000,
		JanitorInterval: time.Minute,
	}
}

// entry はメモリ上のキャッシュエントリ。
type entry struct {
	key       string
	report    *model.Report
	expiresAt time.Time
}

// Cache はフィンガープリントをキーとしてレポートを保持する。
// 期限切れのエントリは決して返さない。
type Cache struct {
	config  Config
	now     func() time.Time
	backend Backend
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // 先頭が最近使用されたエントリ

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option はCacheの生成オプション。
type Option func(*Cache)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithBackend は第2層のバックエンドを設定する。
func WithBackend(b Backend) Option {
	return func(c *Cache) {
		c.backend = b
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New は新しいCacheを生成する。
// 掃除を行うにはStartを呼び出す必要がある。
func New(config Config, opts ...Option) *Cache {
	def := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = def.JanitorInterval
	}

	c := &Cache{
		config:  config,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: metrics.Nop{},
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL はデフォルトのエントリ有効期間を返す。
func (c *Cache) TTL() time.Duration {
	return c.config.TTL
}

// Get はフィンガープリントに対応する有効なレポートを返す。
// メモリにない場合はバックエンドを参照し、見つかればメモリに戻す。
// バックエンドのエラーはミスとして扱う。
func (c *Cache) Get(ctx context.Context, fingerprint string) (*model.Report, bool) {
	if report, ok := c.getLocal(fingerprint); ok {
		c.metrics.RecordCacheHit("memory")
		return report, true
	}

	if c.backend != nil {
		report, expiresAt, err := c.backend.Load(ctx, fingerprint)
		switch {
		case err == nil && c.now().Before(expiresAt):
			c.putLocal(fingerprint, report, expiresAt)
			c.metrics.RecordCacheHit("redis")
			return report, true
		case err != nil && !errors.Is(err, ErrMiss):
			c.logger.Warn("キャッシュバックエンドの読み込みに失敗しました",
				slog.String("fingerprint", fingerprint),
				slog.String("error", err.Error()),
			)
		}
	}

	c.metrics.RecordCacheMiss()
	return nil, false
}

// Put はレポートを保存する。ttlが0以下の場合はデフォルトの有効期間を使用する。
// バックエンドへの書き込み失敗はログに記録し、呼び出し元には返さない。
func (c *Cache) Put(ctx context.Context, fingerprint string, report *model.Report, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	expiresAt := c.now().Add(ttl)
	c.putLocal(fingerprint, report, expiresAt)

	if c.backend != nil {
		if err := c.backend.Store(ctx, fingerprint, report, expiresAt); err != nil {
			c.logger.Warn("キャッシュバックエンドへの書き込みに失敗しました",
				slog.String("fingerprint", fingerprint),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Len はメモリ上のエントリ数を返す。期限切れで未掃除のエントリも含む。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) getLocal(key string) (*model.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.report, true
}

func (c *Cache) putLocal(key string, report *model.Report, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.report = report
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, report: report, expiresAt: expiresAt})
	c.items[key] = el

	for c.order.Len() > c.config.Capacity {
		c.removeElement(c.order.Back())
	}
}

// removeElement はエントリを削除する。c.muを保持した状態で呼び出すこと。
func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// Start はバックグラウンドで期限切れエントリの掃除を開始する。
func (c *Cache) Start() {
	go c.janitorLoop()
}

// Stop は掃除のバックグラウンドゴルーチンを停止する。複数回呼び出してもよい。
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) janitorLoop() {
	ticker := time.NewTicker(c.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("期限切れキャッシュを削除しました", slog.Int("count", n))
			}
		case <-c.stopCh:
			return
		}
	}
}

// sweep は期限切れのエントリを削除し、削除件数を返す。
func (c *Cache) sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}
