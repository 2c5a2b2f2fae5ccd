package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/openintel/internal/model"
)

// fakeClock はテスト用の手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockBackend はBackendのモック。
type mockBackend struct {
	loadFunc  func(ctx context.Context, key string) (*model.Report, time.Time, error)
	storeFunc func(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error
}

func (m *mockBackend) Load(ctx context.Context, key string) (*model.Report, time.Time, error) {
	return m.loadFunc(ctx, key)
}

func (m *mockBackend) Store(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error {
	return m.storeFunc(ctx, key, report, expiresAt)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newReport(id string) *model.Report {
	return &model.Report{ID: id, Summary: "summary " + id}
}

func TestCache_PutThenGetReturnsSameReport(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultConfig(), WithClock(clock.Now))
	ctx := context.Background()

	want := newReport("r1")
	c.Put(ctx, "fp-1", want, 0)

	got, ok := c.Get(ctx, "fp-1")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != want {
		t.Errorf("Get() returned a different report: %+v", got)
	}
}

func TestCache_ExpiredEntryIsNeverReturned(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{TTL: 600 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	c.Put(ctx, "fp-1", newReport("r1"), 0)

	clock.Advance(599 * time.Second)
	if _, ok := c.Get(ctx, "fp-1"); !ok {
		t.Fatal("entry should still be valid before TTL")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, "fp-1"); ok {
		t.Fatal("entry should be expired at TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after lazy expiry", c.Len())
	}
}

func TestCache_PutOverwritesAndExtendsExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{TTL: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	c.Put(ctx, "fp", newReport("old"), 0)
	clock.Advance(50 * time.Second)
	c.Put(ctx, "fp", newReport("new"), 0)
	clock.Advance(50 * time.Second)

	got, ok := c.Get(ctx, "fp")
	if !ok || got.ID != "new" {
		t.Errorf("Get() = %v, %v, want report new", got, ok)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{Capacity: 2})
	ctx := context.Background()

	c.Put(ctx, "a", newReport("a"), 0)
	c.Put(ctx, "b", newReport("b"), 0)
	// aを参照してbを最も古い状態にする
	c.Get(ctx, "a")
	c.Put(ctx, "c", newReport("c"), 0)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := c.Get(ctx, key); !ok {
			t.Errorf("%s should remain in cache", key)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_SweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{TTL: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	c.Put(ctx, "short", newReport("short"), 10*time.Second)
	c.Put(ctx, "long", newReport("long"), 0)
	clock.Advance(30 * time.Second)

	if n := c.sweep(); n != 1 {
		t.Errorf("sweep() = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_BackendHitPopulatesMemory(t *testing.T) {
	clock := newFakeClock()
	stored := newReport("shared")
	expiry := clock.Now().Add(time.Minute)
	loads := 0
	backend := &mockBackend{
		loadFunc: func(ctx context.Context, key string) (*model.Report, time.Time, error) {
			loads++
			if key != "fp" {
				return nil, time.Time{}, ErrMiss
			}
			return stored, expiry, nil
		},
		storeFunc: func(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error {
			return nil
		},
	}
	c := New(DefaultConfig(), WithClock(clock.Now), WithBackend(backend))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, ok := c.Get(ctx, "fp")
		if !ok || got.ID != "shared" {
			t.Fatalf("Get() = %v, %v, want shared report", got, ok)
		}
	}
	if loads != 1 {
		t.Errorf("backend loads = %d, want 1", loads)
	}

	// バックエンドの有効期限はメモリ側にも引き継がれる
	clock.Advance(time.Minute)
	if _, ok := c.Get(ctx, "fp"); ok {
		t.Error("entry past backend expiry should not be returned")
	}
}

func TestCache_BackendStaleEntryIsMiss(t *testing.T) {
	clock := newFakeClock()
	backend := &mockBackend{
		loadFunc: func(ctx context.Context, key string) (*model.Report, time.Time, error) {
			return newReport("stale"), clock.Now().Add(-time.Second), nil
		},
		storeFunc: func(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error {
			return nil
		},
	}
	c := New(DefaultConfig(), WithClock(clock.Now), WithBackend(backend))

	if _, ok := c.Get(context.Background(), "fp"); ok {
		t.Error("stale backend entry should be treated as a miss")
	}
}

func TestCache_BackendErrorsAreLoggedAndTreatedAsMiss(t *testing.T) {
	var buf bytes.Buffer
	backend := &mockBackend{
		loadFunc: func(ctx context.Context, key string) (*model.Report, time.Time, error) {
			return nil, time.Time{}, errors.New("connection refused")
		},
		storeFunc: func(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error {
			return errors.New("connection refused")
		},
	}
	c := New(DefaultConfig(), WithBackend(backend), WithLogger(newTestLogger(&buf)))
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Get() ok = true, want false on backend error")
	}

	c.Put(ctx, "fp", newReport("r"), 0)
	if _, ok := c.Get(ctx, "fp"); !ok {
		t.Error("memory tier should still serve entries when the backend fails")
	}

	logOutput := buf.String()
	if strings.Count(logOutput, "WARN") < 2 {
		t.Errorf("expected backend failures to be logged as WARN, got: %s", logOutput)
	}
}

func TestCache_PutPassesExpiryToBackend(t *testing.T) {
	clock := newFakeClock()
	var gotExpiry time.Time
	backend := &mockBackend{
		loadFunc: func(ctx context.Context, key string) (*model.Report, time.Time, error) {
			return nil, time.Time{}, ErrMiss
		},
		storeFunc: func(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error {
			gotExpiry = expiresAt
			return nil
		},
	}
	c := New(Config{TTL: 10 * time.Minute}, WithClock(clock.Now), WithBackend(backend))

	c.Put(context.Background(), "fp", newReport("r"), 0)

	if want := clock.Now().Add(10 * time.Minute); !gotExpiry.Equal(want) {
		t.Errorf("backend expiresAt = %v, want %v", gotExpiry, want)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Config{Capacity: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("fp-%d", (n*100+j)%80)
				c.Put(ctx, key, newReport(key), 0)
				c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len() = %d, want <= 50", c.Len())
	}
}

func TestCache_StartStop(t *testing.T) {
	c := New(Config{JanitorInterval: time.Millisecond})
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
	c.Stop()
}
