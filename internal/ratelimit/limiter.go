// Package ratelimit はクライアント単位の固定ウィンドウ方式のレート制限を提供する。
package ratelimit

import (
	"sync"
	"time"
)

// Config はレート制限の設定を保持する。
type Config struct {
	Window          time.Duration // ウィンドウ長。最初のアドミッション時刻から計測する
	MaxRequests     int           // ウィンドウ内で許可する最大リクエスト数
	CleanupInterval time.Duration // 終了済みウィンドウのクリーンアップ間隔
}

// DefaultConfig はデフォルトのレート制限設定を返す。
// 60秒あたり10リクエスト/クライアント。
func DefaultConfig() Config {
	return Config{
		Window:          60 * time.Second,
		MaxRequests:     10,
		CleanupInterval: 5 * time.Minute,
	}
}

// Decision はアドミッション判定の結果。拒否はエラーではなく値として返す。
type Decision struct {
	Allowed    bool
	Remaining  int           // ウィンドウ内の残り許可数
	RetryAfter time.Duration // 拒否時、ウィンドウが終わるまでの時間
}

// clientWindow はクライアントごとのウィンドウ開始時刻と消費数を保持する。
type clientWindow struct {
	start time.Time
	count int
}

// Limiter はクライアントキーごとのレート制限を管理する。
// ウィンドウはそのキーで最初に許可されたリクエストの時刻から始まる。
type Limiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*clientWindow

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option はLimiterの生成オプション。
type Option func(*Limiter)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New は新しいLimiterを生成する。
// クリーンアップを行うにはStartを呼び出す必要がある。
func New(config Config, opts ...Option) *Limiter {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultConfig().MaxRequests
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	l := &Limiter{
		config:  config,
		now:     time.Now,
		windows: make(map[string]*clientWindow),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit はクライアントキーのリクエストを許可するか判定し、許可した場合は消費数を加算する。
func (l *Limiter) Admit(clientKey string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[clientKey]
	if !exists || !now.Before(w.start.Add(l.config.Window)) {
		w = &clientWindow{start: now}
		l.windows[clientKey] = w
	}

	if w.count >= l.config.MaxRequests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.start.Add(l.config.Window).Sub(now),
		}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Remaining: l.config.MaxRequests - w.count,
	}
}

// ClientCount は現在管理されているクライアントキーの数を返す。
// テストおよびメトリクス用。
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Start はバックグラウンドでクリーンアップを開始する。
func (l *Limiter) Start() {
	go l.cleanupLoop()
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出してもよい。
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// cleanupLoop はバックグラウンドで終了済みウィンドウを定期的にクリーンアップする。
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup は終了から1ウィンドウ以上経過したエントリを削除する。
func (l *Limiter) cleanup() {
	now := l.now()
	ttl := 2 * l.config.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.start) >= ttl {
			delete(l.windows, key)
		}
	}
}
