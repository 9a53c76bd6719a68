// Package cache keeps computed scores keyed by ledger fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
)

var errTenantRequired = errors.New("tenantID is required")

// New builds the score cache cfg.Type names. "memory" is the in-process
// LRU; "redis" is the shared store, fronted by an LRU when EnableTwoPhase
// is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		shared, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return shared, nil
		}
		return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), shared, cfg.LocalTTL), nil
	}
	return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
}

// ScoreKey is the cache key of a score within a tenant.
func ScoreKey(merchantID, fingerprint string) string {
	return "score:" + merchantID + ":" + fingerprint
}

func checkScore(tenantID string, result *domain.ScoreResult) error {
	if tenantID == "" {
		return errTenantRequired
	}
	if result == nil || result.LedgerFingerprint == "" {
		return errors.New("score result with a ledger fingerprint is required")
	}
	return nil
}

func encodeScore(result *domain.ScoreResult) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode score: %w", err)
	}
	return data, nil
}

func decodeScore(data []byte) (*domain.ScoreResult, error) {
	var result domain.ScoreResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached score: %w", err)
	}
	return &result, nil
}

// TwoPhaseCache reads a local LRU before a shared cache. The shared phase
// is what replicas agree on; the local phase keeps a hot merchant off the
// network for at most localTTL.
type TwoPhaseCache struct {
	local    *LRUCache
	shared   domain.Cache
	localTTL time.Duration
}

// NewTwoPhaseCache fronts shared with local. localTTL defaults to five
// minutes.
func NewTwoPhaseCache(local *LRUCache, shared domain.Cache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, shared: shared, localTTL: localTTL}
}

// GetScore checks the local phase, then the shared one. A shared hit is
// copied into the local phase.
func (c *TwoPhaseCache) GetScore(ctx context.Context, tenantID string, merchantID string, fingerprint string) (*domain.ScoreResult, error) {
	if hit, err := c.local.GetScore(ctx, tenantID, merchantID, fingerprint); err != nil || hit != nil {
		return hit, err
	}

	hit, err := c.shared.GetScore(ctx, tenantID, merchantID, fingerprint)
	if err != nil || hit == nil {
		return nil, err
	}
	_ = c.local.SetScore(ctx, tenantID, merchantID, hit, c.localTTL)
	return hit, nil
}

// SetScore writes the local phase with at most localTTL and the shared
// phase with the full TTL.
func (c *TwoPhaseCache) SetScore(ctx context.Context, tenantID string, merchantID string, result *domain.ScoreResult, ttl time.Duration) error {
	if err := c.local.SetScore(ctx, tenantID, merchantID, result, min(ttl, c.localTTL)); err != nil {
		return err
	}
	return c.shared.SetScore(ctx, tenantID, merchantID, result, ttl)
}

// ForgetMerchant clears both phases and reports the shared count, which
// covers every replica's writes.
func (c *TwoPhaseCache) ForgetMerchant(ctx context.Context, tenantID string, merchantID string) (int, error) {
	if _, err := c.local.ForgetMerchant(ctx, tenantID, merchantID); err != nil {
		return 0, err
	}
	return c.shared.ForgetMerchant(ctx, tenantID, merchantID)
}

// Ping reports the shared phase; the local one cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.shared.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

// Close releases both phases.
func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.local.Close(), c.shared.Close())
}

// Stats reports the local phase.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
