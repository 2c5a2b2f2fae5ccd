package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/openintel/internal/model"
)

// redisKeyPrefix はRedis上のキーの接頭辞。
const redisKeyPrefix = "openintel:report:"

// redisEntry はRedisに保存するJSON形式。
type redisEntry struct {
	Report    *model.Report `json:"report"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// RedisBackend はRedisを第2層とするBackend実装。
// 複数のAPIプロセス間でレポートを共有する。
type RedisBackend struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBackend はRedisBackendを生成する。
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, now: time.Now}
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Load はRedisからエントリを読み込む。
func (b *RedisBackend) Load(ctx context.Context, key string) (*model.Report, time.Time, error) {
	raw, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, ErrMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	if e.Report == nil {
		return nil, time.Time{}, ErrMiss
	}
	return e.Report, e.ExpiresAt, nil
}

// Store はエントリをJSONとして有効期限付きで保存する。
func (b *RedisBackend) Store(ctx context.Context, key string, report *model.Report, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(redisEntry{Report: report, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := b.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set to redis: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
