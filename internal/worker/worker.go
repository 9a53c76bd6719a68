// Package worker re-scores merchants asynchronously when their ledger grows.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/history"
	"github.com/notenetra/creditscore/internal/ledger"
	"github.com/notenetra/creditscore/internal/repository"
	"github.com/notenetra/creditscore/internal/service"
)

// Worker consumes ledger.appended events from the EventBus.
type Worker struct {
	bus domain.EventBus
	svc *service.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	cfg           Config
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// RecordHistory appends the epoch score after each re-score.
	RecordHistory bool

	// HandlerTimeout bounds one re-score. Zero means no bound.
	HandlerTimeout time.Duration
}

// ConfigFrom maps the service configuration onto a worker Config.
func ConfigFrom(cfg domain.WorkerConfig) Config {
	return Config{
		TenantIDs:      cfg.TenantIDs,
		RecordHistory:  cfg.RecordHistory,
		HandlerTimeout: time.Duration(cfg.HandlerTimeout) * time.Second,
	}
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc *service.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		svc:    svc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to ledger.appended for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	started := 0
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLedgerAppended, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
		started++
	}
	if started == 0 {
		return fmt.Errorf("no worker subscriptions started")
	}

	slog.Info("workers started",
		"tenant_count", started,
		"topic", domain.TopicLedgerAppended,
		"record_history", cfg.RecordHistory,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var evt domain.LedgerAppendedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		slog.Error("failed to parse ledger event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if evt.TenantID == "" {
		evt.TenantID = msg.TenantID
	}
	if evt.TraceID == "" {
		evt.TraceID = msg.ID
	}
	return w.Process(ctx, evt)
}

// Process re-scores the merchant named by evt, publishes score.computed and,
// when history recording is on, appends the epoch entry. An epoch that is
// already recorded is not an error.
func (w *Worker) Process(ctx context.Context, evt domain.LedgerAppendedEvent) error {
	start := time.Now()
	if evt.MerchantID == "" {
		return fmt.Errorf("ledger event without merchant")
	}

	var asOf time.Time
	if evt.AsOf != "" {
		t, err := ledger.ParseTimestamp(evt.AsOf)
		if err != nil {
			return fmt.Errorf("invalid asOf: %w", err)
		}
		asOf = t
	}

	w.mu.Lock()
	cfg := w.cfg
	w.mu.Unlock()
	if cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandlerTimeout)
		defer cancel()
	}

	report, err := w.svc.ScoreMerchant(ctx, evt.TenantID, evt.MerchantID, asOf, service.SourceWorker)
	if err != nil {
		slog.Error("re-score failed",
			"tenant_id", evt.TenantID,
			"merchant_id", evt.MerchantID,
			"trace_id", evt.TraceID,
			"error", err,
		)
		return err
	}
	w.svc.PublishComputed(ctx, evt.TenantID, evt.MerchantID, evt.TraceID, report.Result)

	recorded := false
	if cfg.RecordHistory {
		_, _, err := w.svc.RecordScore(ctx, evt.TenantID, evt.MerchantID, asOf, service.SourceWorker, evt.TraceID)
		switch {
		case err == nil:
			recorded = true
		case errors.Is(err, repository.ErrDuplicateEpoch), errors.Is(err, history.ErrOutOfOrder):
			slog.Debug("epoch already recorded",
				"tenant_id", evt.TenantID,
				"merchant_id", evt.MerchantID,
			)
		default:
			slog.Error("failed to record score",
				"tenant_id", evt.TenantID,
				"merchant_id", evt.MerchantID,
				"error", err,
			)
			return err
		}
	}

	slog.Info("merchant re-scored",
		"tenant_id", evt.TenantID,
		"merchant_id", evt.MerchantID,
		"trace_id", evt.TraceID,
		"score", report.Result.NormalizedScore,
		"tier", report.Result.Tier,
		"recorded", recorded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
