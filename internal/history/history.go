// Package history maintains a merchant's append-only score history and
// summarizes its trend.
package history

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
)

// Epoch granularities.
const (
	Daily  = "daily"
	Weekly = "weekly"
)

var (
	// ErrOutOfOrder is returned when an entry's epoch is not after the last one.
	ErrOutOfOrder = errors.New("history: epoch not after last entry")

	// ErrDuplicateEpoch is the ErrOutOfOrder case of an epoch equal to the
	// last one.
	ErrDuplicateEpoch = fmt.Errorf("%w: score already recorded for epoch", ErrOutOfOrder)
)

// ValidGranularity reports whether g names a supported epoch granularity.
func ValidGranularity(g string) bool {
	return g == Daily || g == Weekly
}

// EpochOf truncates t to the start of its scoring epoch in UTC. Weekly
// epochs start on Monday. Unknown granularities fall back to daily.
func EpochOf(t time.Time, granularity string) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if granularity == Weekly {
		offset := (int(d.Weekday()) + 6) % 7
		d = d.AddDate(0, 0, -offset)
	}
	return d
}

// Check reports whether an entry at epoch next may follow one at last. An
// equal epoch returns ErrDuplicateEpoch and an earlier one ErrOutOfOrder.
func Check(last, next time.Time) error {
	switch {
	case next.Equal(last):
		return fmt.Errorf("%w: %s", ErrDuplicateEpoch, next.UTC().Format(time.RFC3339))
	case next.Before(last):
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
			next.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339))
	}
	return nil
}

// Append returns entries with e added at the end. Entries are never
// rewritten: an epoch equal to or before the last entry's is rejected.
func Append(entries []domain.ScoreEntry, e domain.ScoreEntry) ([]domain.ScoreEntry, error) {
	if n := len(entries); n > 0 {
		if err := Check(entries[n-1].Epoch, e.Epoch); err != nil {
			return entries, err
		}
	}
	return append(entries, e), nil
}

// Direction of a trend.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	Flat Direction = "flat"
)

// flatSlope is the per-epoch slope below which a trend is flat.
const flatSlope = 0.5

// Trend summarizes a run of history entries.
type Trend struct {
	Points     int       `json:"points"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
	FirstScore int       `json:"firstScore"`
	LastScore  int       `json:"lastScore"`
	Delta      int       `json:"delta"`

	// Slope is the least-squares change in normalized score per entry.
	Slope     float64   `json:"slope"`
	Direction Direction `json:"direction"`
}

// Summarize computes the trend over the last n entries, oldest first. n <= 0
// uses every entry.
func Summarize(entries []domain.ScoreEntry, n int) Trend {
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	t := Trend{Points: len(entries), Direction: Flat}
	if len(entries) == 0 {
		return t
	}

	first, last := entries[0], entries[len(entries)-1]
	t.From, t.To = first.Epoch, last.Epoch
	t.FirstScore = first.Result.NormalizedScore
	t.LastScore = last.Result.NormalizedScore
	t.Delta = t.LastScore - t.FirstScore

	if len(entries) < 2 {
		return t
	}

	var sx, sy, sxy, sxx float64
	for i, e := range entries {
		x, y := float64(i), float64(e.Result.NormalizedScore)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	k := float64(len(entries))
	if den := k*sxx - sx*sx; den != 0 {
		t.Slope = (k*sxy - sx*sy) / den
	}

	switch {
	case math.Abs(t.Slope) < flatSlope:
		t.Direction = Flat
	case t.Slope > 0:
		t.Direction = Up
	default:
		t.Direction = Down
	}
	return t
}
