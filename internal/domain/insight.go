package domain

// InsightRule is an advisory rule evaluated against a score result.
// Expression is a CEL boolean over the score variables; when it is true the
// rule's Message is attached to the result.
type InsightRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression to evaluate, must return bool
	Expression string `json:"expression"`

	Message  string          `json:"message"`
	Severity InsightSeverity `json:"severity"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// InsightSeverity ranks how prominently an insight should be shown.
type InsightSeverity string

const (
	SeverityInfo    InsightSeverity = "info"
	SeverityAdvice  InsightSeverity = "advice"
	SeverityWarning InsightSeverity = "warning"
)

// Insight is a triggered insight rule.
type Insight struct {
	RuleID   string          `json:"ruleId"`
	Message  string          `json:"message"`
	Severity InsightSeverity `json:"severity"`
}

// Predefined insight rule IDs
const (
	InsightInsufficientData = "insufficient-data"
	InsightLowConsistency   = "low-consistency"
	InsightFlatGrowth       = "flat-growth"
	InsightSingleChannel    = "single-channel"
	InsightSlowCollections  = "slow-collections"
)
