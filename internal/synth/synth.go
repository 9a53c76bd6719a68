// Package synth generates synthetic merchant ledgers for tests, the offline
// CLI demo and the load benchmark.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/ledger"
)

// Profile describes the shape of a generated ledger.
type Profile struct {
	// Start is the first collection day. Zero uses 2024-01-01 UTC.
	Start time.Time

	// Months of history to generate.
	Months int

	// CadenceDays between collection days.
	CadenceDays int

	// PerCollection is the number of credit records on each collection day.
	PerCollection int

	// Channels are assigned round-robin within a collection day.
	Channels []string

	// BaseMonthlyMinor is the credit volume of the first month.
	BaseMonthlyMinor int64

	// MonthlyGrowth compounds the monthly volume (0.10 = +10% per month).
	MonthlyGrowth float64

	// DebitRatio adds one debit per collection day sized as a fraction of
	// that day's credits. 0 generates no debits.
	DebitRatio float64

	// JitterHours randomly shifts each collection day by up to this many
	// hours. Seed makes the shift reproducible.
	JitterHours int
	Seed        uint64
}

// Steady is a year of weekly collections split evenly over three channels
// with 10% monthly growth.
func Steady() Profile {
	return Profile{
		Months:           12,
		CadenceDays:      7,
		PerCollection:    3,
		Channels:         []string{"upi", "cash", "card"},
		BaseMonthlyMinor: 1_000_000,
		MonthlyGrowth:    0.10,
	}
}

// LumpSum is a ledger holding one large credit.
func LumpSum(at time.Time, amountMinor int64) []domain.RawRecord {
	return []domain.RawRecord{{
		ID:        "lump-0",
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Amount:    ledger.FormatAmount(amountMinor),
		Direction: string(domain.DirectionCredit),
		Channel:   "cash",
	}}
}

// Generate builds the raw records of p in timestamp order.
func Generate(p Profile) []domain.RawRecord {
	p = p.withDefaults()
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	end := p.Start.AddDate(0, p.Months, 0)
	var days []time.Time
	for d := p.Start; d.Before(end); d = d.AddDate(0, 0, p.CadenceDays) {
		days = append(days, d)
	}

	perMonth := make(map[int]int)
	for _, d := range days {
		perMonth[monthsBetween(p.Start, d)]++
	}

	var out []domain.RawRecord
	for i, d := range days {
		m := monthsBetween(p.Start, d)
		target := float64(p.BaseMonthlyMinor) * math.Pow(1+p.MonthlyGrowth, float64(m))
		each := int64(math.Round(target / float64(perMonth[m]*p.PerCollection)))

		at := d.Add(10 * time.Hour)
		if p.JitterHours > 0 {
			at = at.Add(time.Duration(rng.IntN(2*p.JitterHours+1)-p.JitterHours) * time.Hour)
		}

		for j := 0; j < p.PerCollection; j++ {
			out = append(out, domain.RawRecord{
				ID:        fmt.Sprintf("c-%d-%d", i, j),
				Timestamp: at.Add(time.Duration(j) * time.Minute).Format(time.RFC3339Nano),
				Amount:    ledger.FormatAmount(each),
				Direction: string(domain.DirectionCredit),
				Channel:   p.Channels[j%len(p.Channels)],
			})
		}
		if p.DebitRatio > 0 {
			debit := int64(math.Round(float64(each*int64(p.PerCollection)) * p.DebitRatio))
			out = append(out, domain.RawRecord{
				ID:        fmt.Sprintf("d-%d", i),
				Timestamp: at.Add(time.Duration(p.PerCollection) * time.Minute).Format(time.RFC3339Nano),
				Amount:    ledger.FormatAmount(debit),
				Direction: string(domain.DirectionDebit),
				Channel:   p.Channels[0],
			})
		}
	}
	return out
}

func (p Profile) withDefaults() Profile {
	if p.Start.IsZero() {
		p.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	p.Start = p.Start.UTC()
	if p.Months <= 0 {
		p.Months = 12
	}
	if p.CadenceDays <= 0 {
		p.CadenceDays = 7
	}
	if p.PerCollection <= 0 {
		p.PerCollection = 1
	}
	if len(p.Channels) == 0 {
		p.Channels = []string{domain.ChannelUnknown}
	}
	if p.BaseMonthlyMinor <= 0 {
		p.BaseMonthlyMinor = 1_000_000
	}
	return p
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
