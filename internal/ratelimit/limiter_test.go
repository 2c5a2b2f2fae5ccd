package ratelimit

import (
	"sync"
	"testing"
	"time"
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

func TestAdmit_TenthAllowedEleventhRejected(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: 60 * time.Second, MaxRequests: 10}, WithClock(clock.Now))

	for i := 1; i <= 10; i++ {
		d := l.Admit("client-1")
		if !d.Allowed {
			t.Fatalf("request %d: Allowed = false, want true", i)
		}
		if d.Remaining != 10-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, d.Remaining, 10-i)
		}
		clock.Advance(time.Second)
	}

	d := l.Admit("client-1")
	if d.Allowed {
		t.Fatal("11th request: Allowed = true, want false")
	}
	// ウィンドウ開始から10秒経過しているため残り50秒
	if d.RetryAfter != 50*time.Second {
		t.Errorf("RetryAfter = %v, want 50s", d.RetryAfter)
	}
}

func TestAdmit_ResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: 60 * time.Second, MaxRequests: 10}, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		l.Admit("client-1")
	}
	if l.Admit("client-1").Allowed {
		t.Fatal("request over limit should be rejected")
	}

	clock.Advance(59 * time.Second)
	if l.Admit("client-1").Allowed {
		t.Fatal("request inside the window should still be rejected")
	}

	clock.Advance(time.Second)
	d := l.Admit("client-1")
	if !d.Allowed {
		t.Fatal("request after the window: Allowed = false, want true")
	}
	if d.Remaining != 9 {
		t.Errorf("Remaining = %d, want 9", d.Remaining)
	}
}

func TestAdmit_RejectionDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: 1}, WithClock(clock.Now))

	l.Admit("k")
	for i := 0; i < 5; i++ {
		l.Admit("k")
	}
	clock.Advance(time.Minute)

	if d := l.Admit("k"); !d.Allowed || d.Remaining != 0 {
		t.Errorf("Admit() after window = %+v, want Allowed with Remaining 0", d)
	}
}

func TestAdmit_ClientsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: 2}, WithClock(clock.Now))

	l.Admit("a")
	l.Admit("a")
	if l.Admit("a").Allowed {
		t.Error("client a should be limited")
	}
	if !l.Admit("b").Allowed {
		t.Error("client b should not be affected by client a")
	}
}

func TestAdmit_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := New(Config{Window: time.Hour, MaxRequests: 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}

func TestCleanup_RemovesFinishedWindows(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{Window: time.Minute, MaxRequests: 10}, WithClock(clock.Now))

	l.Admit("old")
	clock.Advance(90 * time.Second)
	l.Admit("fresh")
	clock.Advance(30 * time.Second)

	l.cleanup()

	if got := l.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestNew_AppliesDefaultsForNonPositiveValues(t *testing.T) {
	l := New(Config{})
	if l.config.Window != 60*time.Second {
		t.Errorf("Window = %v, want 60s", l.config.Window)
	}
	if l.config.MaxRequests != 10 {
		t.Errorf("MaxRequests = %d, want 10", l.config.MaxRequests)
	}
}

func TestStop_CanBeCalledTwice(t *testing.T) {
	l := New(DefaultConfig())
	l.Start()
	l.Stop()
	l.Stop()
}
