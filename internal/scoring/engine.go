package scoring

import (
	"errors"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/features"
	"github.com/notenetra/creditscore/internal/ledger"
)

// Engine runs the full pipeline for one scoring configuration:
// trim to the trailing window, extract features, aggregate.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg    domain.ScoringConfig
	params features.Params

	// Now is the normalizer clock for ScoreRaw. Nil reads the wall clock.
	Now func() time.Time
}

// NewEngine validates cfg and returns an engine for it.
func NewEngine(cfg domain.ScoringConfig) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, params: features.ParamsFrom(cfg)}, nil
}

// Config returns the engine's scoring configuration.
func (e *Engine) Config() domain.ScoringConfig {
	return e.cfg
}

// Window trims w to the configured trailing window.
func (e *Engine) Window(w domain.LedgerWindow) domain.LedgerWindow {
	return ledger.Trailing(w, e.cfg.WindowDays)
}

// Score scores an ordered ledger window as of its End.
func (e *Engine) Score(w domain.LedgerWindow) (domain.ScoreResult, error) {
	w = e.Window(w)

	fs, ev := features.Extract(w, e.params)
	result, err := Aggregate(fs, e.cfg.Weights, w.End)
	if err != nil {
		return domain.ScoreResult{}, err
	}

	result.Evidence = ev
	result.Unmeasured = features.Unmeasured(ev)
	result.InsufficientData = len(result.Unmeasured) > 0
	result.LedgerFingerprint = ledger.Fingerprint(w, e.cfg)
	return result, nil
}

// ScoreRaw normalizes raw records and scores the valid ones. Rejected
// records are returned alongside the result; they never fail the call.
func (e *Engine) ScoreRaw(raw []domain.RawRecord, opts ledger.Options) (domain.ScoreResult, []domain.Rejection, error) {
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = e.cfg.ClockSkew
	}

	w, err := ledger.Normalizer{Now: e.Now}.Normalize(raw, opts)
	var rejected []domain.Rejection
	if err != nil {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			return domain.ScoreResult{}, nil, err
		}
		rejected = verr.Rejected
	}

	result, err := e.Score(w)
	if err != nil {
		return domain.ScoreResult{}, rejected, err
	}
	return result, rejected, nil
}
