// Package scoring combines feature sets into bounded credit scores.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/history"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
const WeightTolerance = 1e-6

// Tier thresholds on the normalized score.
const (
	FairFrom      = 550
	GoodFrom      = 650
	ExcellentFrom = 750
)

// ValidateWeights checks that every weight is finite and non-negative and
// that they sum to 1.0. Weights are never renormalized.
func ValidateWeights(w domain.Weights) error {
	named := []struct {
		name string
		v    float64
	}{
		{"weights.consistency", w.Consistency},
		{"weights.growth", w.Growth},
		{"weights.diversity", w.Diversity},
		{"weights.timing", w.Timing},
	}
	for _, n := range named {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) {
			return &domain.ConfigurationError{Field: n.name, Reason: "must be finite"}
		}
		if n.v < 0 {
			return &domain.ConfigurationError{Field: n.name, Reason: fmt.Sprintf("must be non-negative, got %g", n.v)}
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return &domain.ConfigurationError{Field: "weights", Reason: fmt.Sprintf("must sum to 1.0, got %g", sum)}
	}
	return nil
}

// ValidateConfig checks a complete scoring configuration.
func ValidateConfig(cfg domain.ScoringConfig) error {
	if err := ValidateWeights(cfg.Weights); err != nil {
		return err
	}
	switch {
	case cfg.WindowDays < 0:
		return &domain.ConfigurationError{Field: "windowDays", Reason: "must be >= 0"}
	case cfg.SubPeriodDays <= 0:
		return &domain.ConfigurationError{Field: "subPeriodDays", Reason: "must be > 0"}
	case cfg.ExpectedCollectionCadenceDays <= 0:
		return &domain.ConfigurationError{Field: "expectedCollectionCadenceDays", Reason: "must be > 0"}
	case !(cfg.GrowthSaturationRate > 0) || math.IsInf(cfg.GrowthSaturationRate, 0):
		return &domain.ConfigurationError{Field: "growthSaturationRate", Reason: "must be a positive finite rate"}
	case cfg.ClockSkew < 0:
		return &domain.ConfigurationError{Field: "clockSkew", Reason: "must be >= 0"}
	case !history.ValidGranularity(cfg.HistoryEpoch):
		return &domain.ConfigurationError{Field: "historyEpoch", Reason: fmt.Sprintf("unknown granularity %q", cfg.HistoryEpoch)}
	}
	return nil
}

// Aggregate combines a feature set into a score. It fails only when the
// weights are invalid.
func Aggregate(fs domain.FeatureSet, w domain.Weights, asOf time.Time) (domain.ScoreResult, error) {
	if err := ValidateWeights(w); err != nil {
		return domain.ScoreResult{}, err
	}

	raw := w.Consistency*clamp01(fs.Consistency) +
		w.Growth*clamp01(fs.Growth) +
		w.Diversity*clamp01(fs.Diversity) +
		w.Timing*clamp01(fs.Timing)
	raw = clamp01(raw)

	score := Normalize(raw)
	return domain.ScoreResult{
		RawScore:        raw,
		NormalizedScore: score,
		Tier:            TierFor(score),
		AsOf:            asOf,
		Features:        fs,
		Weights:         w,
	}, nil
}

// Normalize maps a raw score in [0,1] onto the published 300-900 band.
func Normalize(raw float64) int {
	span := float64(domain.MaxScore - domain.MinScore)
	score := domain.MinScore + int(math.Round(clamp01(raw)*span))
	return min(max(score, domain.MinScore), domain.MaxScore)
}

// TierFor buckets a normalized score.
func TierFor(score int) domain.Tier {
	switch {
	case score >= ExcellentFrom:
		return domain.TierExcellent
	case score >= GoodFrom:
		return domain.TierGood
	case score >= FairFrom:
		return domain.TierFair
	default:
		return domain.TierPoor
	}
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
