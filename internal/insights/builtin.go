package insights

import "github.com/notenetra/creditscore/internal/domain"

// DefaultRules returns the built-in insight rules. Tenants can add their own
// rules, which are loaded alongside these.
func DefaultRules() []*domain.InsightRule {
	return []*domain.InsightRule{
		{
			ID:          domain.InsightInsufficientData,
			Name:        "Insufficient history",
			Description: "Some signals had too little history to measure",
			Expression:  "insufficient_data",
			Message:     "Not enough transaction history yet; the score will firm up as more weeks of sales are recorded.",
			Severity:    domain.SeverityWarning,
			Enabled:     true,
		},
		{
			ID:          domain.InsightLowConsistency,
			Name:        "Uneven activity",
			Description: "Transaction counts vary widely between periods",
			Expression:  `!("consistency" in unmeasured) && consistency < 0.5`,
			Message:     "Record sales regularly, every week, to improve business consistency.",
			Severity:    domain.SeverityAdvice,
			Enabled:     true,
		},
		{
			ID:          domain.InsightFlatGrowth,
			Name:        "Flat revenue",
			Description: "Monthly credit volume is not growing",
			Expression:  `!("growth" in unmeasured) && growth < 0.3`,
			Message:     "Monthly revenue is flat or declining; steady month-over-month growth raises the score.",
			Severity:    domain.SeverityAdvice,
			Enabled:     true,
		},
		{
			ID:          domain.InsightSingleChannel,
			Name:        "Single payment channel",
			Description: "Nearly all transactions go through one channel",
			Expression:  "transactions > 0 && diversity < 0.4",
			Message:     "Accept more payment modes, such as UPI or card alongside cash, to improve diversity.",
			Severity:    domain.SeverityInfo,
			Enabled:     true,
		},
		{
			ID:          domain.InsightSlowCollections,
			Name:        "Slow collections",
			Description: "Credits arrive late or irregularly against the expected cadence",
			Expression:  `!("timing" in unmeasured) && timing < 0.5`,
			Message:     "Collect payments on a regular schedule to improve payment timing.",
			Severity:    domain.SeverityAdvice,
			Enabled:     true,
		},
	}
}
