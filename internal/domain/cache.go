package domain

import (
	"context"
	"time"
)

// Cache stores scores under the fingerprint of the window and configuration
// they were computed from, so a hit is always the score the engine would
// produce. Memory (community), Redis, or both as two phases (pro).
// All methods require tenantID.
type Cache interface {
	// GetScore returns the score cached for a ledger fingerprint, or
	// nil, nil on a miss.
	GetScore(ctx context.Context, tenantID string, merchantID string, fingerprint string) (*ScoreResult, error)

	// SetScore caches a score under its LedgerFingerprint.
	SetScore(ctx context.Context, tenantID string, merchantID string, result *ScoreResult, ttl time.Duration) error

	// ForgetMerchant drops every score cached for a merchant and returns
	// how many were removed. Fingerprints of a superseded ledger can never
	// hit again; forgetting them frees the space early.
	ForgetMerchant(ctx context.Context, tenantID string, merchantID string) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (community tier)
	LocalMaxSize int           `mapstructure:"localmaxsize"`
	LocalTTL     time.Duration `mapstructure:"localttl"`

	// ScoreTTL is how long a fingerprinted score stays cached
	ScoreTTL time.Duration `mapstructure:"scorettl"`

	// Redis settings (pro tier)
	RedisAddr     string `mapstructure:"redisaddr"`
	RedisPassword string `mapstructure:"redispassword"`
	RedisDB       int    `mapstructure:"redisdb"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enabletwophase"` // If true, check local first, then Redis
}
