package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string
	LogLevel          string

	// Persistence (optional)
	DatabaseURL string
	RedisURL    string

	// Cache
	CacheTTL      time.Duration
	CacheCapacity int

	// Rate Limit
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Providers
	ProviderTimeout time.Duration
	ProbeTimeout    time.Duration
	AvatarTimeout   time.Duration
	// ReputationTimeout はメール評判照会（EmailRep）のみに適用する。
	ReputationTimeout time.Duration

	// Audit
	AuditTimeout       time.Duration
	AuditRetentionDays int
	HistoryLimit       int

	// Tracing (optional)
	OTLPEndpoint string

	// API keys
	HIBPAPIKey           string
	EmailRepAPIKey       string
	HunterAPIKey         string
	NumverifyAPIKey      string
	AbstractPhoneAPIKey  string
	SocialSearcherAPIKey string
	NewsAPIKey           string
}

// Load は環境変数からConfigを読み込む。
// 数値として解釈できない値は既定値にフォールバックし、0以下の上限値はエラーとする。
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:        getEnvString("SERVER_PORT", "8080"),
		CORSAllowedOrigin: getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		CacheTTL:      getEnvDuration("CACHE_TTL", 10*time.Minute),
		CacheCapacity: getEnvInt("CACHE_CAPACITY", 1000),

		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 10),

		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 8*time.Second),
		ProbeTimeout:    getEnvDuration("PROBE_TIMEOUT", 5*time.Second),
		AvatarTimeout:   getEnvDuration("AVATAR_TIMEOUT", 3*time.Second),

		ReputationTimeout: getEnvDuration("REPUTATION_TIMEOUT", 10*time.Second),

		AuditTimeout:       getEnvDuration("AUDIT_TIMEOUT", 3*time.Second),
		AuditRetentionDays: getEnvInt("AUDIT_RETENTION_DAYS", 90),
		HistoryLimit:       getEnvInt("HISTORY_LIMIT", 20),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		HIBPAPIKey:           os.Getenv("HIBP_API_KEY"),
		EmailRepAPIKey:       os.Getenv("EMAILREP_API_KEY"),
		HunterAPIKey:         os.Getenv("HUNTER_API_KEY"),
		NumverifyAPIKey:      os.Getenv("NUMVERIFY_API_KEY"),
		AbstractPhoneAPIKey:  os.Getenv("ABSTRACT_PHONE_API_KEY"),
		SocialSearcherAPIKey: os.Getenv("SOCIAL_SEARCHER_API_KEY"),
		NewsAPIKey:           os.Getenv("NEWS_API_KEY"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var invalid []string
	if c.CacheTTL <= 0 {
		invalid = append(invalid, "CACHE_TTL")
	}
	if c.CacheCapacity <= 0 {
		invalid = append(invalid, "CACHE_CAPACITY")
	}
	if c.RateLimitWindow <= 0 {
		invalid = append(invalid, "RATE_LIMIT_WINDOW")
	}
	if c.RateLimitMax <= 0 {
		invalid = append(invalid, "RATE_LIMIT_MAX")
	}
	if c.ProviderTimeout <= 0 {
		invalid = append(invalid, "PROVIDER_TIMEOUT")
	}
	if c.ProbeTimeout <= 0 {
		invalid = append(invalid, "PROBE_TIMEOUT")
	}
	if c.AvatarTimeout <= 0 {
		invalid = append(invalid, "AVATAR_TIMEOUT")
	}
	if c.ReputationTimeout <= 0 {
		invalid = append(invalid, "REPUTATION_TIMEOUT")
	}
	if c.AuditTimeout <= 0 {
		invalid = append(invalid, "AUDIT_TIMEOUT")
	}
	if c.AuditRetentionDays <= 0 {
		invalid = append(invalid, "AUDIT_RETENTION_DAYS")
	}
	if c.HistoryLimit <= 0 {
		invalid = append(invalid, "HISTORY_LIMIT")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("environment variables must be positive: %v", invalid)
	}
	return nil
}

// HasDatabase はDATABASE_URLが設定されているかを返す。
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
