package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
)

func scoreWith(fingerprint string, score int) *domain.ScoreResult {
	return &domain.ScoreResult{
		RawScore:          float64(score-300) / 600,
		NormalizedScore:   score,
		Tier:              domain.TierGood,
		AsOf:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Features:          domain.FeatureSet{Consistency: 0.8, Growth: 0.5, Diversity: 0.6, Timing: 0.4},
		Unmeasured:        []string{"growth"},
		LedgerFingerprint: fingerprint,
	}
}

func TestLRUScoreCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("HitAndMiss", func(t *testing.T) {
		c := NewLRUCache(100)
		want := scoreWith("fp-1", 666)
		if err := c.SetScore(ctx, tenantID, "merchant-001", want, time.Minute); err != nil {
			t.Fatalf("SetScore failed: %v", err)
		}

		hit, err := c.GetScore(ctx, tenantID, "merchant-001", "fp-1")
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if hit == nil {
			t.Fatal("expected cache hit")
		}
		if hit.NormalizedScore != 666 || hit.Features != want.Features || !hit.AsOf.Equal(want.AsOf) {
			t.Errorf("unexpected cached score: %+v", hit)
		}

		for _, key := range []struct{ tenant, merchant, fp string }{
			{tenantID, "merchant-001", "fp-2"},
			{tenantID, "merchant-002", "fp-1"},
			{"tenant-002", "merchant-001", "fp-1"},
		} {
			miss, err := c.GetScore(ctx, key.tenant, key.merchant, key.fp)
			if err != nil {
				t.Fatalf("GetScore failed: %v", err)
			}
			if miss != nil {
				t.Errorf("expected miss for %+v", key)
			}
		}
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		c := NewLRUCache(10)
		stored := scoreWith("fp-1", 700)
		_ = c.SetScore(ctx, tenantID, "m", stored, time.Minute)
		stored.Unmeasured[0] = "mutated"

		first, _ := c.GetScore(ctx, tenantID, "m", "fp-1")
		first.Unmeasured[0] = "mutated again"
		first.NormalizedScore = 1

		second, _ := c.GetScore(ctx, tenantID, "m", "fp-1")
		if second.Unmeasured[0] != "growth" || second.NormalizedScore != 700 {
			t.Errorf("cached score was mutated: %+v", second)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		c := NewLRUCache(10)
		c.now = func() time.Time { return clock }

		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 650), time.Hour)
		if hit, _ := c.GetScore(ctx, tenantID, "m", "fp-1"); hit == nil {
			t.Error("expected hit before expiry")
		}

		clock = clock.Add(61 * time.Minute)
		if hit, _ := c.GetScore(ctx, tenantID, "m", "fp-1"); hit != nil {
			t.Error("expected miss after expiry")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry to be dropped, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		c := NewLRUCache(3)
		for _, fp := range []string{"a", "b", "c"} {
			_ = c.SetScore(ctx, tenantID, "m", scoreWith(fp, 600), time.Minute)
		}
		_, _ = c.GetScore(ctx, tenantID, "m", "a")
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("d", 600), time.Minute)

		if hit, _ := c.GetScore(ctx, tenantID, "m", "b"); hit != nil {
			t.Error("expected 'b' to be evicted")
		}
		if hit, _ := c.GetScore(ctx, tenantID, "m", "a"); hit == nil {
			t.Error("expected 'a' to still exist")
		}
		if n, _ := c.ForgetMerchant(ctx, tenantID, "m"); n != 3 {
			t.Errorf("expected evicted entry to leave the merchant index, forgot %d", n)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 600), time.Minute)
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 610), time.Minute)

		if size, _ := c.Stats(); size != 1 {
			t.Errorf("expected one entry, got %d", size)
		}
		hit, _ := c.GetScore(ctx, tenantID, "m", "fp-1")
		if hit == nil || hit.NormalizedScore != 610 {
			t.Errorf("expected overwritten score, got %+v", hit)
		}
	})

	t.Run("ForgetMerchant", func(t *testing.T) {
		c := NewLRUCache(100)
		for i := 0; i < 4; i++ {
			_ = c.SetScore(ctx, tenantID, "m-1", scoreWith(fmt.Sprintf("fp-%d", i), 600), time.Minute)
		}
		_ = c.SetScore(ctx, tenantID, "m-2", scoreWith("fp-0", 600), time.Minute)
		_ = c.SetScore(ctx, "tenant-002", "m-1", scoreWith("fp-0", 600), time.Minute)

		n, err := c.ForgetMerchant(ctx, tenantID, "m-1")
		if err != nil {
			t.Fatalf("ForgetMerchant failed: %v", err)
		}
		if n != 4 {
			t.Errorf("expected 4 scores forgotten, got %d", n)
		}
		if hit, _ := c.GetScore(ctx, tenantID, "m-1", "fp-2"); hit != nil {
			t.Error("expected forgotten score to miss")
		}
		if hit, _ := c.GetScore(ctx, tenantID, "m-2", "fp-0"); hit == nil {
			t.Error("other merchant should be kept")
		}
		if hit, _ := c.GetScore(ctx, "tenant-002", "m-1", "fp-0"); hit == nil {
			t.Error("other tenant should be kept")
		}
		if n, _ := c.ForgetMerchant(ctx, tenantID, "m-1"); n != 0 {
			t.Errorf("expected nothing left to forget, got %d", n)
		}
	})

	t.Run("RequiresTenantAndFingerprint", func(t *testing.T) {
		c := NewLRUCache(10)
		if err := c.SetScore(ctx, "", "m", scoreWith("fp", 600), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := c.GetScore(ctx, "", "m", "fp"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := c.ForgetMerchant(ctx, "", "m"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := c.SetScore(ctx, tenantID, "m", &domain.ScoreResult{}, time.Minute); err == nil {
			t.Error("expected error for a result without fingerprint")
		}
		if err := c.SetScore(ctx, tenantID, "m", nil, time.Minute); err == nil {
			t.Error("expected error for a nil result")
		}
	})

	t.Run("StatsPingClose", func(t *testing.T) {
		c := NewLRUCache(50)
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 600), time.Minute)
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-2", 600), time.Minute)

		size, capacity := c.Stats()
		if size != 2 || capacity != 50 {
			t.Errorf("expected 2/50, got %d/%d", size, capacity)
		}
		if err := c.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if hit, _ := c.GetScore(ctx, tenantID, "m", "fp-1"); hit != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SharedHitFillsLocal", func(t *testing.T) {
		local, shared := NewLRUCache(10), NewLRUCache(10)
		c := NewTwoPhaseCache(local, shared, time.Minute)

		_ = shared.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 690), time.Hour)
		if hit, _ := local.GetScore(ctx, tenantID, "m", "fp-1"); hit != nil {
			t.Fatal("local phase should start empty")
		}

		hit, err := c.GetScore(ctx, tenantID, "m", "fp-1")
		if err != nil || hit == nil || hit.NormalizedScore != 690 {
			t.Fatalf("expected shared hit, got %+v, %v", hit, err)
		}
		if hit, _ := local.GetScore(ctx, tenantID, "m", "fp-1"); hit == nil {
			t.Error("shared hit should be copied into the local phase")
		}
	})

	t.Run("LocalTTLIsCapped", func(t *testing.T) {
		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		local, shared := NewLRUCache(10), NewLRUCache(10)
		local.now = func() time.Time { return clock }
		shared.now = func() time.Time { return clock }
		c := NewTwoPhaseCache(local, shared, time.Minute)

		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 640), time.Hour)
		clock = clock.Add(2 * time.Minute)

		if hit, _ := local.GetScore(ctx, tenantID, "m", "fp-1"); hit != nil {
			t.Error("local phase should expire after its own TTL")
		}
		if hit, _ := c.GetScore(ctx, tenantID, "m", "fp-1"); hit == nil {
			t.Error("shared phase should still hold the score")
		}
	})

	t.Run("ForgetMerchantClearsBoth", func(t *testing.T) {
		local, shared := NewLRUCache(10), NewLRUCache(10)
		c := NewTwoPhaseCache(local, shared, 0)
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-1", 600), time.Hour)
		_ = c.SetScore(ctx, tenantID, "m", scoreWith("fp-2", 600), time.Hour)

		n, err := c.ForgetMerchant(ctx, tenantID, "m")
		if err != nil || n != 2 {
			t.Fatalf("ForgetMerchant = %d, %v", n, err)
		}
		if size, _ := local.Stats(); size != 0 {
			t.Errorf("local phase still holds %d scores", size)
		}
		if size, _ := shared.Stats(); size != 0 {
			t.Errorf("shared phase still holds %d scores", size)
		}
	})
}

func TestKeys(t *testing.T) {
	if got := ScoreKey("m-1", "abc"); got != "score:m-1:abc" {
		t.Errorf("unexpected score key %q", got)
	}
	if got := redisScoreKey("t-1", "m-1", "abc"); got != "creditscore:t-1:score:m-1:abc" {
		t.Errorf("unexpected redis key %q", got)
	}
	if got := redisIndexKey("t-1", "m-1"); got != "creditscore:t-1:scores:m-1" {
		t.Errorf("unexpected redis index key %q", got)
	}
}

func TestScoreCodec(t *testing.T) {
	want := scoreWith("fp-1", 720)
	data, err := encodeScore(want)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeScore(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.NormalizedScore != 720 || got.LedgerFingerprint != "fp-1" || !got.AsOf.Equal(want.AsOf) {
		t.Errorf("unexpected decoded score: %+v", got)
	}
	if _, err := decodeScore([]byte("{")); err == nil {
		t.Error("expected error for corrupt cache entry")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		lru, ok := c.(*LRUCache)
		if !ok {
			t.Fatal("expected LRUCache for memory type")
		}
		if _, capacity := lru.Stats(); capacity != 100 {
			t.Errorf("expected capacity 100, got %d", capacity)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
