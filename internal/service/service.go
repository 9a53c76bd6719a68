// Package service wires the scoring engine to the ledger store, the score
// cache, the event bus and the insight rules. The HTTP API, the re-scoring
// worker and the CLI all go through it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/history"
	"github.com/notenetra/creditscore/internal/insights"
	"github.com/notenetra/creditscore/internal/ledger"
	"github.com/notenetra/creditscore/internal/metrics"
	"github.com/notenetra/creditscore/internal/repository"
	"github.com/notenetra/creditscore/internal/scoring"
)

var tracer = otel.Tracer("creditscore-service")

// Score sources, used as metric labels.
const (
	SourceAPI    = "api"
	SourceStored = "stored"
	SourceWorker = "worker"
	SourceCLI    = "cli"
)

// LocalTenant is the tenant used for offline scoring.
const LocalTenant = "local"

// ErrNoStore is returned by ledger operations when the service runs without
// a repository.
var ErrNoStore = errors.New("no ledger store configured")

// Options holds the optional collaborators of a Service. Nil fields turn
// the matching feature off.
type Options struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Insights *insights.Engine
	Metrics  *metrics.ScoringMetrics

	// ScoreTTL is how long a fingerprinted score is cached.
	ScoreTTL time.Duration

	// Now is the service clock. Nil reads the wall clock.
	Now func() time.Time
}

// Service runs scoring requests.
type Service struct {
	engine   *scoring.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	insights *insights.Engine
	metrics  *metrics.ScoringMetrics
	scoreTTL time.Duration
	now      func() time.Time
}

// Report is a score together with the insights it triggered.
type Report struct {
	Result   domain.ScoreResult `json:"result"`
	Insights []domain.Insight   `json:"insights"`
	Rejected []domain.Rejection `json:"rejected,omitempty"`
	Cached   bool               `json:"cached"`
}

// AppendResult describes a ledger append.
type AppendResult struct {
	MerchantID string             `json:"merchantId"`
	Received   int                `json:"received"`
	Appended   int                `json:"appended"`
	Rejected   []domain.Rejection `json:"rejected,omitempty"`
}

// New validates cfg and builds a service. An invalid configuration is a
// *domain.ConfigurationError.
func New(cfg domain.ScoringConfig, opts Options) (*Service, error) {
	engine, err := scoring.NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	engine.Now = now

	ttl := opts.ScoreTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Service{
		engine:   engine,
		repo:     opts.Repo,
		cache:    opts.Cache,
		bus:      opts.Bus,
		insights: opts.Insights,
		metrics:  opts.Metrics,
		scoreTTL: ttl,
		now:      now,
	}, nil
}

// Config returns the effective scoring configuration.
func (s *Service) Config() domain.ScoringConfig {
	return s.engine.Config()
}

// Insights returns the insight engine, or nil.
func (s *Service) Insights() *insights.Engine {
	return s.insights
}

// ScoreRecords normalizes raw records and scores them without touching the
// ledger store. A non-nil override replaces the scoring configuration for
// this call. Rejected records are reported in the Report.
func (s *Service) ScoreRecords(ctx context.Context, tenantID, merchantID string, raw []domain.RawRecord, asOf time.Time, override *domain.ScoringConfig) (*Report, error) {
	return s.scoreRecords(ctx, SourceAPI, tenantID, merchantID, raw, asOf, override)
}

// ScoreOffline scores a ledger read outside the service, such as a file
// given to the CLI. It is ScoreRecords under the local tenant.
func (s *Service) ScoreOffline(ctx context.Context, merchantID string, raw []domain.RawRecord, asOf time.Time) (*Report, error) {
	return s.scoreRecords(ctx, SourceCLI, LocalTenant, merchantID, raw, asOf, nil)
}

func (s *Service) scoreRecords(ctx context.Context, source, tenantID, merchantID string, raw []domain.RawRecord, asOf time.Time, override *domain.ScoringConfig) (*Report, error) {
	ctx, span := tracer.Start(ctx, "service.ScoreRecords", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("source", source),
		attribute.Int("records.received", len(raw)),
	))
	defer span.End()

	engine := s.engine
	if override != nil {
		var err error
		engine, err = scoring.NewEngine(*override)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		engine.Now = s.now
	}

	w, rejected, err := s.normalize(raw, ledger.Options{MerchantID: merchantID, AsOf: asOf, ClockSkew: engine.Config().ClockSkew})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report, err := s.scoreWindow(ctx, engine, tenantID, w, source)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	report.Rejected = rejected
	return report, nil
}

// AppendTransactions normalizes raw records and appends the valid ones to
// the merchant's ledger. When any record is rejected and allowPartial is
// false nothing is stored and the *domain.ValidationError is returned.
// A successful append publishes a ledger.appended event.
func (s *Service) AppendTransactions(ctx context.Context, tenantID, merchantID string, raw []domain.RawRecord, allowPartial bool, traceID string) (*AppendResult, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantID is required", repository.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "service.AppendTransactions", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("merchant.id", merchantID),
		attribute.Int("records.received", len(raw)),
	))
	defer span.End()

	w, rejected, err := s.normalize(raw, ledger.Options{MerchantID: merchantID, ClockSkew: s.engine.Config().ClockSkew})
	if err != nil {
		return nil, err
	}

	res := &AppendResult{
		MerchantID: merchantID,
		Received:   len(raw),
		Rejected:   rejected,
	}
	if len(rejected) > 0 && !allowPartial {
		return res, &domain.ValidationError{Rejected: rejected}
	}
	if w.Empty() {
		return res, nil
	}

	appended, err := s.repo.SaveTransactions(ctx, tenantID, merchantID, w.Records)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to append transactions: %w", err)
	}
	res.Appended = appended
	s.metrics.AddAppended(appended)

	slog.Info("ledger appended",
		"tenant_id", tenantID,
		"merchant_id", merchantID,
		"received", len(raw),
		"appended", appended,
		"rejected", len(rejected),
	)

	if appended > 0 {
		s.forgetScores(ctx, tenantID, merchantID)
		s.publish(ctx, tenantID, domain.TopicLedgerAppended, domain.LedgerAppendedEvent{
			TenantID:   tenantID,
			MerchantID: merchantID,
			TraceID:    traceID,
			Appended:   appended,
		})
	}
	return res, nil
}

// ListTransactions returns the stored ledger records in [since, until].
// Zero bounds are open.
func (s *Service) ListTransactions(ctx context.Context, tenantID, merchantID string, since, until time.Time) ([]domain.TransactionRecord, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	return s.repo.ListTransactions(ctx, tenantID, merchantID, since, until)
}

// ScoreMerchant scores the merchant's stored ledger as of asOf. A zero asOf
// scores as of now.
func (s *Service) ScoreMerchant(ctx context.Context, tenantID, merchantID string, asOf time.Time, source string) (*Report, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	ctx, span := tracer.Start(ctx, "service.ScoreMerchant", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("merchant.id", merchantID),
		attribute.String("score.as_of", asOf.Format(time.RFC3339)),
	))
	defer span.End()

	var since time.Time
	if days := s.engine.Config().WindowDays; days > 0 {
		since = asOf.Add(-time.Duration(days) * ledger.Day)
	}
	records, err := s.repo.ListTransactions(ctx, tenantID, merchantID, since, asOf)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	w := ledger.FromRecords(merchantID, records, asOf)
	report, err := s.scoreWindow(ctx, s.engine, tenantID, w, source)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("score.normalized", report.Result.NormalizedScore),
		attribute.Bool("score.cached", report.Cached),
	)
	return report, nil
}

// RecordScore scores the merchant as of asOf and appends the result to the
// score history under asOf's epoch. A second call for the same epoch returns
// repository.ErrDuplicateEpoch; the recorded entry is never replaced.
func (s *Service) RecordScore(ctx context.Context, tenantID, merchantID string, asOf time.Time, source, traceID string) (*domain.ScoreEntry, []domain.Insight, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}

	report, err := s.ScoreMerchant(ctx, tenantID, merchantID, asOf, source)
	if err != nil {
		return nil, nil, err
	}

	entry := &domain.ScoreEntry{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		MerchantID: merchantID,
		Epoch:      history.EpochOf(asOf, s.engine.Config().HistoryEpoch),
		Result:     report.Result,
		RecordedAt: s.now().UTC(),
	}

	if err := s.repo.AppendScore(ctx, tenantID, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateEpoch) || errors.Is(err, history.ErrOutOfOrder) {
			s.metrics.IncHistory("duplicate")
		} else {
			s.metrics.IncHistory("failed")
		}
		return nil, report.Insights, err
	}
	s.metrics.IncHistory("recorded")

	slog.Info("score recorded",
		"tenant_id", tenantID,
		"merchant_id", merchantID,
		"epoch", entry.Epoch.Format(time.RFC3339),
		"score", entry.Result.NormalizedScore,
		"tier", entry.Result.Tier,
	)

	epoch := entry.Epoch
	s.publish(ctx, tenantID, domain.TopicScoreRecorded, domain.ScoreEvent{
		TenantID:   tenantID,
		MerchantID: merchantID,
		TraceID:    traceID,
		Epoch:      &epoch,
		Result:     entry.Result,
	})
	return entry, report.Insights, nil
}

// History returns the last limit entries of the merchant's score history,
// oldest first, with their trend.
func (s *Service) History(ctx context.Context, tenantID, merchantID string, limit int) ([]domain.ScoreEntry, history.Trend, error) {
	if s.repo == nil {
		return nil, history.Trend{}, ErrNoStore
	}
	stored, err := s.repo.ListScoreHistory(ctx, tenantID, merchantID, limit)
	if err != nil {
		return nil, history.Trend{}, err
	}

	entries := make([]domain.ScoreEntry, len(stored))
	for i, e := range stored {
		entries[i] = *e
	}
	return entries, history.Summarize(entries, len(entries)), nil
}

// PublishComputed announces a freshly computed score.
func (s *Service) PublishComputed(ctx context.Context, tenantID, merchantID, traceID string, result domain.ScoreResult) {
	s.publish(ctx, tenantID, domain.TopicScoreComputed, domain.ScoreEvent{
		TenantID:   tenantID,
		MerchantID: merchantID,
		TraceID:    traceID,
		Result:     result,
	})
}

// scoreWindow scores w through the cache. The cache key is the window's
// fingerprint, so an unchanged ledger returns the stored result and any
// appended record misses.
func (s *Service) scoreWindow(ctx context.Context, engine *scoring.Engine, tenantID string, w domain.LedgerWindow, source string) (*Report, error) {
	start := time.Now()
	w = engine.Window(w)
	fp := ledger.Fingerprint(w, engine.Config())

	if s.cache != nil {
		cached, err := s.cache.GetScore(ctx, tenantID, w.MerchantID, fp)
		switch {
		case err != nil:
			s.metrics.IncCache("error")
			slog.Warn("score cache lookup failed",
				"tenant_id", tenantID,
				"merchant_id", w.MerchantID,
				"error", err,
			)
		case cached != nil:
			s.metrics.IncCache("hit")
			return &Report{Result: *cached, Insights: s.evaluate(*cached), Cached: true}, nil
		default:
			s.metrics.IncCache("miss")
		}
	}

	result, err := engine.Score(w)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveScore(source, string(result.Tier), time.Since(start))

	if s.cache != nil {
		if err := s.cache.SetScore(ctx, tenantID, w.MerchantID, &result, s.scoreTTL); err != nil {
			slog.Warn("score cache store failed",
				"tenant_id", tenantID,
				"merchant_id", w.MerchantID,
				"error", err,
			)
		}
	}

	slog.Debug("score computed",
		"tenant_id", tenantID,
		"merchant_id", w.MerchantID,
		"source", source,
		"records", w.Len(),
		"score", result.NormalizedScore,
		"tier", result.Tier,
		"insufficient_data", result.InsufficientData,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Report{Result: result, Insights: s.evaluate(result)}, nil
}

// forgetScores drops the merchant's cached scores after its ledger grew.
// Their fingerprints can no longer match, so a failure only costs space.
func (s *Service) forgetScores(ctx context.Context, tenantID, merchantID string) {
	if s.cache == nil {
		return
	}
	n, err := s.cache.ForgetMerchant(ctx, tenantID, merchantID)
	if err != nil {
		slog.Warn("failed to forget cached scores",
			"tenant_id", tenantID,
			"merchant_id", merchantID,
			"error", err,
		)
		return
	}
	slog.Debug("cached scores forgotten",
		"tenant_id", tenantID,
		"merchant_id", merchantID,
		"count", n,
	)
}

func (s *Service) evaluate(r domain.ScoreResult) []domain.Insight {
	if s.insights == nil {
		return []domain.Insight{}
	}
	return s.insights.Evaluate(r)
}

// normalize runs the normalizer and separates rejections from hard errors.
func (s *Service) normalize(raw []domain.RawRecord, opts ledger.Options) (domain.LedgerWindow, []domain.Rejection, error) {
	w, err := ledger.Normalizer{Now: s.now}.Normalize(raw, opts)
	if err == nil {
		return w, nil, nil
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return domain.LedgerWindow{}, nil, err
	}
	for _, r := range verr.Rejected {
		s.metrics.IncRejected(r.Reason)
	}
	return w, verr.Rejected, nil
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, event any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}
