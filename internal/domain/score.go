package domain

import "time"

// FeatureSet holds the four behavioral signals, each in [0,1].
type FeatureSet struct {
	Consistency float64 `json:"consistency"`
	Growth      float64 `json:"growth"`
	Diversity   float64 `json:"diversity"`
	Timing      float64 `json:"timing"`
}

// Evidence records how much of the ledger backed each signal. A signal with
// too little evidence resolves to 0 and the result is marked insufficient.
type Evidence struct {
	Transactions   int `json:"transactions"`
	Credits        int `json:"credits"`
	SubPeriods     int `json:"subPeriods"`
	Months         int `json:"months"`
	CollectionDays int `json:"collectionDays"`
	Channels       int `json:"channels"`
}

// Weights is the per-factor weight vector. It must sum to 1.0.
type Weights struct {
	Consistency float64 `json:"consistency" mapstructure:"consistency"`
	Growth      float64 `json:"growth" mapstructure:"growth"`
	Diversity   float64 `json:"diversity" mapstructure:"diversity"`
	Timing      float64 `json:"timing" mapstructure:"timing"`
}

// DefaultWeights returns the weights communicated to merchants:
// consistency 35%, growth 30%, diversity 20%, timing 15%.
func DefaultWeights() Weights {
	return Weights{
		Consistency: 0.35,
		Growth:      0.30,
		Diversity:   0.20,
		Timing:      0.15,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Consistency + w.Growth + w.Diversity + w.Timing
}

// Tier is the display bucket of a normalized score.
type Tier string

const (
	TierPoor      Tier = "Poor"
	TierFair      Tier = "Fair"
	TierGood      Tier = "Good"
	TierExcellent Tier = "Excellent"
)

// Published score band.
const (
	MinScore = 300
	MaxScore = 900
)

// ScoreResult is the output of one scoring run. It is never mutated after
// creation.
type ScoreResult struct {
	RawScore        float64   `json:"rawScore"`
	NormalizedScore int       `json:"normalizedScore"`
	Tier            Tier      `json:"tier"`
	AsOf            time.Time `json:"asOf"`

	Features FeatureSet `json:"features"`
	Weights  Weights    `json:"weights"`
	Evidence Evidence   `json:"evidence"`

	// InsufficientData is set when consistency, growth or timing had too
	// little history to be measured and resolved to 0.
	InsufficientData bool     `json:"insufficientData"`
	Unmeasured       []string `json:"unmeasured,omitempty"`

	// LedgerFingerprint identifies the exact window and configuration the
	// score was computed from.
	LedgerFingerprint string `json:"ledgerFingerprint,omitempty"`
}

// ScoreEntry is one element of a merchant's score history. Entries are
// appended once per epoch and never rewritten.
type ScoreEntry struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenantId"`
	MerchantID string      `json:"merchantId"`
	Epoch      time.Time   `json:"epoch"`
	Result     ScoreResult `json:"result"`
	RecordedAt time.Time   `json:"recordedAt"`
}
