// Package features derives the four behavioral signals from a ledger window.
//
// Every signal lies in [0,1] and resolves to 0 when the window carries too
// little history to measure it. Extraction is pure and total: it has no error
// path and reads nothing but the window and its parameters.
package features

import (
	"math"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
)

// Signal names, as reported in ScoreResult.Unmeasured.
const (
	SignalConsistency = "consistency"
	SignalGrowth      = "growth"
	SignalDiversity   = "diversity"
	SignalTiming      = "timing"
)

const day = 24 * time.Hour

// Params are the extractor's tunables.
type Params struct {
	// SubPeriodDays is the bucket length of the consistency signal.
	SubPeriodDays int

	// CadenceDays is the expected number of days between collections.
	CadenceDays int

	// GrowthSaturationRate is the median month-over-month growth mapped to 1.
	GrowthSaturationRate float64
}

// DefaultParams returns the parameters of domain.DefaultScoringConfig.
func DefaultParams() Params {
	return ParamsFrom(domain.DefaultScoringConfig())
}

// ParamsFrom picks the extractor parameters out of a scoring configuration.
func ParamsFrom(cfg domain.ScoringConfig) Params {
	return Params{
		SubPeriodDays:        cfg.SubPeriodDays,
		CadenceDays:          cfg.ExpectedCollectionCadenceDays,
		GrowthSaturationRate: cfg.GrowthSaturationRate,
	}
}

func (p Params) withDefaults() Params {
	def := domain.DefaultScoringConfig()
	if p.SubPeriodDays <= 0 {
		p.SubPeriodDays = def.SubPeriodDays
	}
	if p.CadenceDays <= 0 {
		p.CadenceDays = def.ExpectedCollectionCadenceDays
	}
	if p.GrowthSaturationRate <= 0 || math.IsNaN(p.GrowthSaturationRate) || math.IsInf(p.GrowthSaturationRate, 0) {
		p.GrowthSaturationRate = def.GrowthSaturationRate
	}
	return p
}

// Extract computes the feature set of w along with the evidence backing it.
// Records are expected in ledger order, as built by the ledger package.
func Extract(w domain.LedgerWindow, p Params) (domain.FeatureSet, domain.Evidence) {
	p = p.withDefaults()

	ev := domain.Evidence{Transactions: len(w.Records)}
	for _, r := range w.Records {
		if r.IsCredit() {
			ev.Credits++
		}
	}

	var fs domain.FeatureSet
	fs.Consistency, ev.SubPeriods = consistency(w, p.SubPeriodDays)
	fs.Growth, ev.Months = growth(w, p.GrowthSaturationRate)
	fs.Diversity, ev.Channels = diversity(w)
	fs.Timing, ev.CollectionDays = timing(w, p.CadenceDays)
	return fs, ev
}

// Unmeasured lists the signals that lacked the history to be measured.
// Diversity is always measurable; a single channel is a legitimate 0.
func Unmeasured(ev domain.Evidence) []string {
	var out []string
	if ev.SubPeriods < 2 {
		out = append(out, SignalConsistency)
	}
	if ev.Months < 2 {
		out = append(out, SignalGrowth)
	}
	if ev.CollectionDays < 2 {
		out = append(out, SignalTiming)
	}
	return out
}

// consistency partitions [first record, End] into fixed buckets and scores
// the evenness of per-bucket transaction counts as 1/(1+CV). It is
// unmeasured (0) until at least two buckets hold a transaction; the
// returned count is then the number of occupied buckets.
func consistency(w domain.LedgerWindow, subPeriodDays int) (float64, int) {
	if len(w.Records) == 0 {
		return 0, 0
	}
	first := w.Records[0].Timestamp
	end := w.End
	if last := w.Records[len(w.Records)-1].Timestamp; end.Before(last) {
		end = last
	}

	width := time.Duration(subPeriodDays) * day
	n := int(end.Sub(first)/width) + 1
	if n < 2 {
		return 0, n
	}

	counts := make([]float64, n)
	occupied := 0
	for _, r := range w.Records {
		i := int(r.Timestamp.Sub(first) / width)
		if i >= n {
			i = n - 1
		}
		if counts[i] == 0 {
			occupied++
		}
		counts[i]++
	}
	// activity confined to one bucket says nothing about evenness
	if occupied < 2 {
		return 0, occupied
	}
	return unit(1 / (1 + cv(counts))), n
}

// growth scores the median month-over-month change in credit volume.
// Months without credits between the first and last credit month count as
// zero revenue; a change from a zero month is not computable and skipped.
func growth(w domain.LedgerWindow, saturation float64) (float64, int) {
	totals := make(map[int]float64)
	firstMonth, lastMonth := math.MaxInt, math.MinInt
	for _, r := range w.Records {
		if !r.IsCredit() {
			continue
		}
		m := monthIndex(r.Timestamp)
		totals[m] += float64(r.AmountMinor)
		firstMonth = min(firstMonth, m)
		lastMonth = max(lastMonth, m)
	}
	if len(totals) == 0 {
		return 0, 0
	}

	months := lastMonth - firstMonth + 1
	if months < 2 {
		return 0, months
	}

	var changes []float64
	for m := firstMonth + 1; m <= lastMonth; m++ {
		prev := totals[m-1]
		if prev <= 0 {
			continue
		}
		changes = append(changes, (totals[m]-prev)/prev)
	}
	if len(changes) == 0 {
		return 0, months
	}
	return unit(median(changes) / saturation), months
}

func monthIndex(t time.Time) int {
	t = t.UTC()
	return t.Year()*12 + int(t.Month()) - 1
}

// diversity is the normalized Shannon entropy of transaction counts per
// channel, H/ln(k).
func diversity(w domain.LedgerWindow) (float64, int) {
	counts := make(map[string]int)
	for _, r := range w.Records {
		counts[r.Channel]++
	}
	k := len(counts)
	if k <= 1 {
		return 0, k
	}

	total := float64(len(w.Records))
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log(p)
	}
	return unit(h / math.Log(float64(k))), k
}

// timing scores how promptly and regularly credits are collected against
// the expected cadence c. Gaps run between consecutive collection days
// across month boundaries; the open gap from the last collection to End is
// included once it already exceeds c.
func timing(w domain.LedgerWindow, cadenceDays int) (float64, int) {
	var days []int64
	for _, r := range w.Records {
		if !r.IsCredit() {
			continue
		}
		d := dayIndex(r.Timestamp)
		// Records are ordered, so a repeated day is always the previous one.
		if len(days) > 0 && days[len(days)-1] == d {
			continue
		}
		days = append(days, d)
	}
	if len(days) < 2 {
		return 0, len(days)
	}

	gaps := make([]float64, 0, len(days))
	for i := 1; i < len(days); i++ {
		gaps = append(gaps, float64(days[i]-days[i-1]))
	}

	c := float64(cadenceDays)
	if !w.End.IsZero() {
		if open := float64(dayIndex(w.End) - days[len(days)-1]); open > c {
			gaps = append(gaps, open)
		}
	}

	var promptness float64
	for _, g := range gaps {
		late := math.Max(0, g-c)
		promptness += 1 / (1 + late/c)
	}
	promptness /= float64(len(gaps))

	regularity := 1 / (1 + cv(gaps))
	return unit(promptness * regularity), len(days)
}

func dayIndex(t time.Time) int64 {
	return int64(math.Floor(float64(t.Unix()) / 86400))
}
