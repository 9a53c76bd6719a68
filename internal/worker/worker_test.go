package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notenetra/creditscore/internal/bus"
	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/repository"
	"github.com/notenetra/creditscore/internal/service"
	"github.com/notenetra/creditscore/internal/synth"
)

func newTestService(t *testing.T, eventBus domain.EventBus) *service.Service {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "creditscore-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	svc, err := service.New(domain.DefaultScoringConfig(), service.Options{
		Repo: repo,
		Bus:  eventBus,
		Now:  func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestWorkerLifecycle(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	svc := newTestService(t, eventBus)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicLedgerAppended {
			t.Errorf("expected topic %s, got %s", domain.TopicLedgerAppended, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if got := w.GetStats().SubscriptionCount; got != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", got)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if got := w.GetStats().SubscriptionCount; got != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", got)
		}
	})

	t.Run("GlobalSubscription", func(t *testing.T) {
		w := NewWorker(eventBus, svc)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if got := w.GetStats().SubscriptionCount; got != 1 {
			t.Errorf("expected global subscription, got %d", got)
		}
	})
}

func TestWorkerRescoresOnAppend(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	svc := newTestService(t, eventBus)
	ctx := context.Background()
	tenantID := "tenant-rescore"

	w := NewWorker(eventBus, svc)
	if err := w.Start(Config{TenantIDs: []string{tenantID}, RecordHistory: true, HandlerTimeout: 5 * time.Second}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var computed, recorded atomic.Int32
	var lastTier atomic.Value
	eventBus.Subscribe(ctx, tenantID, domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
		var evt domain.ScoreEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return err
		}
		lastTier.Store(evt.Result.Tier)
		computed.Add(1)
		return nil
	})
	eventBus.Subscribe(ctx, tenantID, domain.TopicScoreRecorded, func(ctx context.Context, msg *domain.Message) error {
		recorded.Add(1)
		return nil
	})

	res, err := svc.AppendTransactions(ctx, tenantID, "merchant-001", synth.Generate(synth.Steady()), false, "trace-001")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if res.Appended == 0 {
		t.Fatal("expected records to be appended")
	}

	waitUntil(t, "score.computed", func() bool { return computed.Load() == 1 })
	waitUntil(t, "score.recorded", func() bool { return recorded.Load() == 1 })

	if tier, _ := lastTier.Load().(domain.Tier); tier == "" {
		t.Error("expected a tier on the computed score")
	}

	entries, _, err := svc.History(ctx, tenantID, "merchant-001", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}

	// A second append in the same epoch re-scores but keeps the recorded entry.
	extra := []domain.RawRecord{{ID: "late-1", Timestamp: "2025-01-01T09:00:00Z", Amount: "50.00", Direction: "credit", Channel: "upi"}}
	if _, err := svc.AppendTransactions(ctx, tenantID, "merchant-001", extra, false, ""); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	waitUntil(t, "second score.computed", func() bool { return computed.Load() == 2 })

	time.Sleep(50 * time.Millisecond)
	if got := recorded.Load(); got != 1 {
		t.Errorf("expected epoch to be recorded once, got %d", got)
	}
}

func TestWorkerAllTenants(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	svc := newTestService(t, eventBus)
	ctx := context.Background()

	w := NewWorker(eventBus, svc)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	computed := make(chan string, 2)
	eventBus.Subscribe(ctx, domain.AllTenants, domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
		computed <- msg.TenantID
		return nil
	})

	for _, tenantID := range []string{"tenant-x", "tenant-y"} {
		if _, err := svc.AppendTransactions(ctx, tenantID, "merchant-001", synth.Generate(synth.Steady()), false, ""); err != nil {
			t.Fatalf("append for %s failed: %v", tenantID, err)
		}
	}

	seen := make(map[string]bool)
	for len(seen) < 2 {
		select {
		case tenantID := <-computed:
			seen[tenantID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for score.computed, saw %v", seen)
		}
	}
}

func TestProcessRejectsBadEvents(t *testing.T) {
	svc := newTestService(t, nil)
	w := NewWorker(bus.NewChannelBus(1), svc)
	ctx := context.Background()

	if err := w.Process(ctx, domain.LedgerAppendedEvent{TenantID: "t"}); err == nil {
		t.Error("expected error for missing merchant")
	}
	if err := w.Process(ctx, domain.LedgerAppendedEvent{TenantID: "t", MerchantID: "m", AsOf: "soon"}); err == nil {
		t.Error("expected error for invalid asOf")
	}
	if err := w.Process(ctx, domain.LedgerAppendedEvent{TenantID: "t", MerchantID: "m", AsOf: "2025-01-01"}); err != nil {
		t.Errorf("empty ledger should still score: %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(domain.WorkerConfig{TenantIDs: []string{"a"}, RecordHistory: true, HandlerTimeout: 3})
	if cfg.HandlerTimeout != 3*time.Second || !cfg.RecordHistory || len(cfg.TenantIDs) != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
