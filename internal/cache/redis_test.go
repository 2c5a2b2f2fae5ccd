package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newUnreachableRedis は接続できないアドレスを指すRedisクライアントを返す。
func newUnreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewRedisClient_ParsesURL(t *testing.T) {
	client, err := NewRedisClient("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()

	opts := client.Options()
	if opts.Addr != "localhost:6380" {
		t.Errorf("Addr = %q, want %q", opts.Addr, "localhost:6380")
	}
	if opts.DB != 2 {
		t.Errorf("DB = %d, want 2", opts.DB)
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient("http://not-redis"); err == nil {
		t.Error("NewRedisClient() error = nil, want error for non-redis scheme")
	}
}

func TestRedisBackend_UnreachableServerReturnsError(t *testing.T) {
	b := NewRedisBackend(newUnreachableRedis(t))
	ctx := context.Background()

	_, _, err := b.Load(ctx, "fp")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("Load() error = %v, want connection error", err)
	}
	if err := b.Store(ctx, "fp", newReport("r"), time.Now().Add(time.Minute)); err == nil {
		t.Error("Store() error = nil, want connection error")
	}
}

func TestRedisBackend_StoreSkipsExpiredEntries(t *testing.T) {
	b := NewRedisBackend(newUnreachableRedis(t))

	// 有効期限が過去であればRedisに接続せずに終了する
	if err := b.Store(context.Background(), "fp", newReport("r"), time.Now().Add(-time.Second)); err != nil {
		t.Errorf("Store() error = %v, want nil", err)
	}
}

func TestCache_FallsBackToMemoryWhenRedisIsDown(t *testing.T) {
	var buf bytes.Buffer
	c := New(DefaultConfig(),
		WithBackend(NewRedisBackend(newUnreachableRedis(t))),
		WithLogger(newTestLogger(&buf)),
	)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "fp"); ok {
		t.Fatal("Get() ok = true, want false")
	}

	want := newReport("r")
	c.Put(ctx, "fp", want, 0)
	got, ok := c.Get(ctx, "fp")
	if !ok || got != want {
		t.Errorf("Get() = %v, %v, want memory-tier hit", got, ok)
	}
}
