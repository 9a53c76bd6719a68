package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notenetra/creditscore/internal/domain"
)

var fixedNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func testNormalizer() Normalizer {
	return Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestNormalizeValidRecords(t *testing.T) {
	raw := []domain.RawRecord{
		{ID: "b", Timestamp: "2025-06-02T10:00:00Z", Amount: "250.50", Direction: "credit", Channel: "UPI"},
		{ID: "a", Timestamp: "2025-06-01", Amount: "100", Direction: "DEBIT", Channel: ""},
		{ID: "c", Timestamp: "2025-06-02T10:00:00Z", Amount: "0.05", Direction: " Credit ", Channel: " Cash"},
	}

	w, err := testNormalizer().Normalize(raw, Options{MerchantID: "m-1"})
	require.NoError(t, err)
	require.Len(t, w.Records, 3)

	assert.Equal(t, "a", w.Records[0].ID)
	assert.Equal(t, "b", w.Records[1].ID, "ties keep insertion order")
	assert.Equal(t, "c", w.Records[2].ID)

	assert.Equal(t, int64(10000), w.Records[0].AmountMinor)
	assert.Equal(t, int64(25050), w.Records[1].AmountMinor)
	assert.Equal(t, int64(5), w.Records[2].AmountMinor)

	assert.Equal(t, domain.DirectionDebit, w.Records[0].Direction)
	assert.Equal(t, domain.ChannelUnknown, w.Records[0].Channel)
	assert.Equal(t, "upi", w.Records[1].Channel)
	assert.Equal(t, "cash", w.Records[2].Channel)

	for i, r := range w.Records {
		assert.Equal(t, int64(i), r.Seq)
		assert.Equal(t, "m-1", r.MerchantID)
	}
	assert.Equal(t, "m-1", w.MerchantID)
	assert.True(t, w.End.Equal(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)), "end defaults to the last record")
}

func TestNormalizeRejections(t *testing.T) {
	raw := []domain.RawRecord{
		{Timestamp: "2025-06-01", Amount: "-5", Direction: "credit"},
		{Timestamp: "yesterday", Amount: "5", Direction: "credit"},
		{Timestamp: "2025-06-01", Amount: "5", Direction: "refund"},
		{Timestamp: "2025-06-01", Amount: "abc", Direction: "debit"},
		{Timestamp: "2025-06-01", Amount: "1.005", Direction: "debit"},
		{Timestamp: "2025-07-01", Amount: "5", Direction: "credit"},
		{Timestamp: "2025-06-01", Amount: "5", Direction: "credit"},
	}

	w, err := testNormalizer().Normalize(raw, Options{})
	require.Error(t, err)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Rejected, 6)

	indexes := make([]int, 0, len(verr.Rejected))
	for _, r := range verr.Rejected {
		indexes = append(indexes, r.Index)
		assert.NotEmpty(t, r.Reason)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, indexes)
	assert.Equal(t, "refund", verr.Rejected[2].Record.Direction, "rejections carry the raw record")
	assert.Contains(t, verr.Rejected[5].Reason, "future")

	require.Len(t, w.Records, 1, "valid records survive a partial rejection")
	assert.Contains(t, err.Error(), "6 records rejected")
}

func TestNormalizeClockSkew(t *testing.T) {
	raw := []domain.RawRecord{
		{Timestamp: fixedNow.Add(2 * time.Minute).Format(time.RFC3339), Amount: "1", Direction: "credit"},
		{Timestamp: fixedNow.Add(10 * time.Minute).Format(time.RFC3339), Amount: "1", Direction: "credit"},
	}

	w, err := testNormalizer().Normalize(raw, Options{})
	require.Error(t, err)
	assert.Len(t, w.Records, 1)

	w, err = testNormalizer().Normalize(raw, Options{ClockSkew: 15 * time.Minute})
	require.NoError(t, err)
	assert.Len(t, w.Records, 2)
}

func TestNormalizeAsOf(t *testing.T) {
	asOf := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	raw := []domain.RawRecord{
		{Timestamp: "2025-03-01", Amount: "1", Direction: "credit"},
		{Timestamp: "2025-04-02", Amount: "1", Direction: "credit"},
	}

	w, err := testNormalizer().Normalize(raw, Options{AsOf: asOf})
	require.NoError(t, err, "records after asOf are left out, not rejected")
	require.Len(t, w.Records, 1)
	assert.True(t, w.End.Equal(asOf))
}

func TestNormalizeHistoricalAsOf(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	raw := []domain.RawRecord{
		{ID: "june", Timestamp: "2024-06-01T10:00:00Z", Amount: "10", Direction: "credit"},
		{ID: "inside-skew", Timestamp: "2024-06-30T00:03:00Z", Amount: "10", Direction: "credit"},
		{ID: "july", Timestamp: "2024-07-15T10:00:00Z", Amount: "10", Direction: "credit"},
		{ID: "future", Timestamp: fixedNow.Add(time.Hour).Format(time.RFC3339), Amount: "10", Direction: "credit"},
	}

	w, err := testNormalizer().Normalize(raw, Options{AsOf: asOf})
	require.Error(t, err)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Rejected, 1, "only records after the real clock are in the future")
	assert.Equal(t, 3, verr.Rejected[0].Index)

	require.Len(t, w.Records, 1)
	assert.Equal(t, "june", w.Records[0].ID)
	assert.True(t, w.End.Equal(asOf), "end stays at the requested epoch")
}

func TestNormalizeEmpty(t *testing.T) {
	w, err := testNormalizer().Normalize(nil, Options{})
	require.NoError(t, err)
	assert.True(t, w.Empty())
	assert.True(t, w.End.IsZero())
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := []domain.RawRecord{
		{ID: "x", Timestamp: "1717236000000", Amount: "99.9", Direction: "credit", Channel: "Card"},
		{ID: "y", Timestamp: "2024-05-30 08:15:00", Amount: "12", Direction: "debit"},
		{ID: "z", Timestamp: "2024-05-30T08:15:00.123456789+05:30", Amount: "7.25", Direction: "credit", Channel: "upi"},
	}

	for _, asOf := range []time.Time{{}, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)} {
		opts := Options{MerchantID: "m-9", AsOf: asOf}

		first, err := testNormalizer().Normalize(raw, opts)
		require.NoError(t, err)

		second, err := testNormalizer().Normalize(RawWindow(first), opts)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-01-02T03:04:05Z", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2025-01-02T08:34:05+05:30", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2025-01-02 03:04:05", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2025-01-02", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"1735787045", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"1735787045000", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"20240115", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"123456789", time.Unix(123456789, 0).UTC()},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "ParseTimestamp(%q) = %v", tt.in, got)
	}

	for _, bad := range []string{"", "02/01/2025", "-5", "2025-13-01", "20241340", "1700", "12345678"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("1250.5")
	require.NoError(t, err)
	assert.Equal(t, int64(125050), got)

	got, err = ParseAmount("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	for _, bad := range []string{"", "-0.01", "12.345", "1,000"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, "1250.50", FormatAmount(125050))
	assert.Equal(t, "0.05", FormatAmount(5))
}

func TestRawRecordAliases(t *testing.T) {
	payload := `[
		{"time": 1735787045000, "amount": 120.5, "type": "credit", "mode": "UPI"},
		{"timestamp": "2025-01-02", "amount": "10", "direction": "debit", "channel": "cash", "id": "t-2"}
	]`

	var raw []domain.RawRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	require.Len(t, raw, 2)

	assert.Equal(t, "1735787045000", raw[0].Timestamp)
	assert.Equal(t, "120.5", raw[0].Amount)
	assert.Equal(t, "credit", raw[0].Direction)
	assert.Equal(t, "UPI", raw[0].Channel)
	assert.Equal(t, "t-2", raw[1].ID)

	w, err := testNormalizer().Normalize(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(12050), w.Records[1].AmountMinor)
}
