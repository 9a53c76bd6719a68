package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/history"
	"github.com/notenetra/creditscore/internal/ledger"
	"github.com/notenetra/creditscore/internal/repository"
	"github.com/notenetra/creditscore/internal/service"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. repo, cache and bus are only used
// for health checks and may be nil.
func NewHandler(svc *service.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	MerchantID string             `json:"merchantId,omitempty"`
	AsOf       string             `json:"asOf,omitempty"`
	Records    []domain.RawRecord `json:"records"`

	// Config overrides fields of the effective scoring configuration for
	// this request only.
	Config json.RawMessage `json:"config,omitempty"`
}

// ResponseMetadata is attached to scoring responses.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ScoreResponse is the response for the scoring endpoints.
type ScoreResponse struct {
	*service.Report
	Metadata ResponseMetadata `json:"metadata"`
}

// Score handles POST /score: normalize and score the records in the body.
// Nothing is stored.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req ScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}

	asOf, ok := parseTimeParam(w, "asOf", req.AsOf)
	if !ok {
		return
	}

	var override *domain.ScoringConfig
	if len(req.Config) > 0 && string(req.Config) != "null" {
		cfg := h.svc.Config()
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid config: " + err.Error(),
			})
			return
		}
		override = &cfg
	}

	report, err := h.svc.ScoreRecords(ctx, GetTenantID(ctx), req.MerchantID, req.Records, asOf, override)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.scoreResponse(r, report, start))
}

// AppendRequest is the request body for POST /merchants/{id}/transactions.
type AppendRequest struct {
	Records      []domain.RawRecord `json:"records"`
	AllowPartial bool               `json:"allowPartial,omitempty"`
}

// AppendTransactions handles POST /merchants/{id}/transactions. When any
// record is invalid nothing is stored unless allowPartial is set (in the
// body or the query string).
func (h *Handler) AppendTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	var req AppendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if q := r.URL.Query().Get("allowPartial"); q != "" {
		req.AllowPartial, _ = strconv.ParseBool(q)
	}

	res, err := h.svc.AppendTransactions(ctx, GetTenantID(ctx), merchantID, req.Records, req.AllowPartial, GetTraceID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// ListTransactions handles GET /merchants/{id}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	since, ok := parseTimeParam(w, "since", r.URL.Query().Get("since"))
	if !ok {
		return
	}
	until, ok := parseTimeParam(w, "until", r.URL.Query().Get("until"))
	if !ok {
		return
	}

	records, err := h.svc.ListTransactions(ctx, GetTenantID(ctx), merchantID, since, until)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.TransactionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchantId":   merchantID,
		"transactions": records,
		"count":        len(records),
	})
}

// GetScore handles GET /merchants/{id}/score: score the stored ledger as of
// the asOf query parameter (default now).
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	asOf, ok := parseTimeParam(w, "asOf", r.URL.Query().Get("asOf"))
	if !ok {
		return
	}

	report, err := h.svc.ScoreMerchant(ctx, GetTenantID(ctx), merchantID, asOf, service.SourceStored)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.scoreResponse(r, report, start))
}

// RecordScoreRequest is the optional body of POST /merchants/{id}/score/history.
type RecordScoreRequest struct {
	AsOf string `json:"asOf,omitempty"`
}

// RecordScore handles POST /merchants/{id}/score/history: compute the epoch
// score and append it. A recorded epoch is never replaced (409).
func (h *Handler) RecordScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	var req RecordScoreRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	if q := r.URL.Query().Get("asOf"); q != "" {
		req.AsOf = q
	}
	asOf, ok := parseTimeParam(w, "asOf", req.AsOf)
	if !ok {
		return
	}

	entry, insights, err := h.svc.RecordScore(ctx, GetTenantID(ctx), merchantID, asOf, service.SourceStored, GetTraceID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"entry":    entry,
		"insights": insights,
	})
}

// GetHistory handles GET /merchants/{id}/score/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "id")

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	entries, trend, err := h.svc.History(ctx, GetTenantID(ctx), merchantID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchantId": merchantID,
		"entries":    entries,
		"trend":      trend,
	})
}

// ListInsightRules returns the loaded insight rules.
func (h *Handler) ListInsightRules(w http.ResponseWriter, r *http.Request) {
	rules := h.svc.ListInsightRules()
	if rules == nil {
		rules = []*domain.InsightRule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateInsightRule validates, stores and loads an insight rule.
func (h *Handler) CreateInsightRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.InsightRule
	if !decodeBody(w, r, &rule) {
		return
	}
	if rule.ID == "" || rule.Expression == "" || rule.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, expression, and message are required",
		})
		return
	}

	if err := h.svc.SaveInsightRule(ctx, GetTenantID(ctx), &rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("insight rule saved", "id", rule.ID, "tenant_id", rule.TenantID, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// ReloadInsightRules reloads the built-in and stored rules into the engine.
func (h *Handler) ReloadInsightRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, err := h.svc.ReloadInsights(ctx, GetTenantID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "insight rules reloaded",
		"count":   n,
	})
}

// GetScoringConfig returns the effective scoring configuration.
func (h *Handler) GetScoringConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Config())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the store and the bus are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unavailable",
			})
			return
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "event bus unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) scoreResponse(r *http.Request, report *service.Report, start time.Time) ScoreResponse {
	return ScoreResponse{
		Report: report,
		Metadata: ResponseMetadata{
			TraceID: GetTraceID(r.Context()),
			TotalMs: time.Since(start).Milliseconds(),
			Version: h.version,
		},
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// parseTimeParam parses an optional time value. Empty yields the zero time.
func parseTimeParam(w http.ResponseWriter, name, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := ledger.ParseTimestamp(value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid " + name + ": " + err.Error(),
		})
		return time.Time{}, false
	}
	return t, true
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var cerr *domain.ConfigurationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    verr.Error(),
			"rejected": verr.Rejected,
		})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": cerr.Error(),
			"field": cerr.Field,
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicateEpoch), errors.Is(err, history.ErrOutOfOrder):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrNoStore), errors.Is(err, service.ErrNoInsights):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
