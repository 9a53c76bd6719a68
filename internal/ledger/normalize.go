// Package ledger validates raw transaction records and builds the ordered
// ledger windows the scoring engine consumes.
package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/notenetra/creditscore/internal/domain"
)

// DefaultClockSkew is how far past the reference time a timestamp may lie.
const DefaultClockSkew = 5 * time.Minute

// minorUnitExp is the number of decimal places in one major unit.
const minorUnitExp = 2

// Options controls how a window is built.
type Options struct {
	MerchantID string

	// AsOf is the epoch the window is built for: records after it are left
	// out of the window without being rejected. Zero means the window ends
	// at its latest record.
	AsOf time.Time

	// ClockSkew overrides DefaultClockSkew when positive.
	ClockSkew time.Duration
}

// Normalizer turns raw records into a LedgerWindow. The zero value is ready
// to use and reads the wall clock.
type Normalizer struct {
	// Now returns the reference time for future-timestamp checks.
	Now func() time.Time
}

// Normalize validates and canonicalizes raw records. Invalid records are
// excluded from the returned window and listed in a *domain.ValidationError;
// the window is still usable, so callers decide whether a partial ledger is
// acceptable.
func (n Normalizer) Normalize(raw []domain.RawRecord, opts Options) (domain.LedgerWindow, error) {
	skew := opts.ClockSkew
	if skew <= 0 {
		skew = DefaultClockSkew
	}

	limit := n.now().Add(skew)
	asOf := opts.AsOf.UTC()

	records := make([]domain.TransactionRecord, 0, len(raw))
	var rejected []domain.Rejection

	for i, r := range raw {
		rec, reason := parseRecord(r)
		if reason == "" && rec.Timestamp.After(limit) {
			reason = fmt.Sprintf("timestamp %s is in the future", rec.Timestamp.Format(time.RFC3339))
		}
		if reason != "" {
			rejected = append(rejected, domain.Rejection{Index: i, Record: r, Reason: reason})
			continue
		}
		if !opts.AsOf.IsZero() && rec.Timestamp.After(asOf) {
			continue
		}
		rec.MerchantID = opts.MerchantID
		records = append(records, rec)
	}

	// Stable sort keeps insertion order for equal timestamps.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	for i := range records {
		records[i].Seq = int64(i)
	}

	window := domain.LedgerWindow{
		MerchantID: opts.MerchantID,
		End:        asOf,
		Records:    records,
	}
	if opts.AsOf.IsZero() && len(records) > 0 {
		window.End = records[len(records)-1].Timestamp
	}
	if len(rejected) > 0 {
		return window, &domain.ValidationError{Rejected: rejected}
	}
	return window, nil
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Normalize is a convenience wrapper using the wall clock.
func Normalize(raw []domain.RawRecord, opts Options) (domain.LedgerWindow, error) {
	return Normalizer{}.Normalize(raw, opts)
}

// parseRecord converts one raw record, returning a rejection reason when the
// record is malformed.
func parseRecord(r domain.RawRecord) (domain.TransactionRecord, string) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return domain.TransactionRecord{}, err.Error()
	}

	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return domain.TransactionRecord{}, err.Error()
	}

	dir, ok := ParseDirection(r.Direction)
	if !ok {
		return domain.TransactionRecord{}, fmt.Sprintf("unknown direction %q", r.Direction)
	}

	return domain.TransactionRecord{
		ID:          strings.TrimSpace(r.ID),
		Timestamp:   ts,
		AmountMinor: amount,
		Direction:   dir,
		Channel:     NormalizeChannel(r.Channel),
	}, ""
}

// ParseDirection accepts credit or debit in any case.
func ParseDirection(s string) (domain.Direction, bool) {
	switch domain.Direction(strings.ToLower(strings.TrimSpace(s))) {
	case domain.DirectionCredit:
		return domain.DirectionCredit, true
	case domain.DirectionDebit:
		return domain.DirectionDebit, true
	}
	return "", false
}

// NormalizeChannel lowercases a channel label. Blank labels become
// domain.ChannelUnknown.
func NormalizeChannel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return domain.ChannelUnknown
	}
	return s
}

// ParseAmount parses a major-unit decimal string ("1250.50") into minor
// units. Negative amounts and sub-minor-unit precision are rejected.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", d.String())
	}
	minor := d.Shift(minorUnitExp)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), minorUnitExp)
	}
	if minor.GreaterThan(decimal.NewFromInt(maxMinor)) {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return minor.IntPart(), nil
}

const maxMinor = 1<<62 - 1

// FormatAmount renders minor units as a major-unit decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -minorUnitExp).StringFixed(minorUnitExp)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const (
	compactDate    = "20060102"
	minEpochDigits = 9
)

// ParseTimestamp accepts RFC 3339, "YYYY-MM-DD HH:MM:SS", "YYYY-MM-DD",
// "YYYYMMDD" and Unix epoch seconds (at least nine digits) or milliseconds. Zone-less layouts are read as UTC.
// The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}

	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if len(s) == len(compactDate) {
			if t, err := time.Parse(compactDate, s); err == nil {
				return t.UTC(), nil
			}
		}
		// shorter values are more likely truncated dates than 1970s epochs
		if epoch < 0 || len(s) < minEpochDigits {
			return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
		}
		// Values past 1e11 seconds (year 5138) are taken as milliseconds.
		if epoch > 1e11 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Raw converts a record back into its canonical raw form.
func Raw(r domain.TransactionRecord) domain.RawRecord {
	return domain.RawRecord{
		ID:        r.ID,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Amount:    FormatAmount(r.AmountMinor),
		Direction: string(r.Direction),
		Channel:   r.Channel,
	}
}

// RawWindow converts every record of a window back into raw form, in order.
// Normalizing the result with the window's AsOf yields an equal window.
func RawWindow(w domain.LedgerWindow) []domain.RawRecord {
	raw := make([]domain.RawRecord, len(w.Records))
	for i, r := range w.Records {
		raw[i] = Raw(r)
	}
	return raw
}
