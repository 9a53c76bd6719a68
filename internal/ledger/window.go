package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
)

// Day is the length of one scoring day.
const Day = 24 * time.Hour

// FromRecords builds a window from stored records. Records are ordered by
// timestamp, then by their stored sequence number. Records after asOf are
// excluded; a zero asOf ends the window at the last record.
func FromRecords(merchantID string, records []domain.TransactionRecord, asOf time.Time) domain.LedgerWindow {
	sorted := make([]domain.TransactionRecord, 0, len(records))
	for _, r := range records {
		if !asOf.IsZero() && r.Timestamp.After(asOf) {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	w := domain.LedgerWindow{
		MerchantID: merchantID,
		End:        asOf.UTC(),
		Records:    sorted,
	}
	if asOf.IsZero() && len(sorted) > 0 {
		w.End = sorted[len(sorted)-1].Timestamp
	}
	return w
}

// Trailing narrows a window to the last days days ending at its End.
// days <= 0 returns the window unchanged.
func Trailing(w domain.LedgerWindow, days int) domain.LedgerWindow {
	if days <= 0 || w.End.IsZero() {
		return w
	}
	start := w.End.Add(-time.Duration(days) * Day)

	// Records are ordered, so the first in-range index bounds the slice.
	i := sort.Search(len(w.Records), func(i int) bool {
		return !w.Records[i].Timestamp.Before(start)
	})

	return domain.LedgerWindow{
		MerchantID: w.MerchantID,
		Start:      start,
		End:        w.End,
		Records:    w.Records[i:],
	}
}

// Fingerprint hashes the window contents together with the scoring
// configuration. Two windows with the same fingerprint always score the
// same, so it keys the score cache; any appended or changed record changes it.
func Fingerprint(w domain.LedgerWindow, cfg domain.ScoringConfig) string {
	h := sha256.New()

	cfgBytes, _ := json.Marshal(cfg)
	h.Write(cfgBytes)

	var buf [8]byte
	writeInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	writeInt(w.Start.UnixNano())
	writeInt(w.End.UnixNano())
	for _, r := range w.Records {
		writeInt(r.Timestamp.UnixNano())
		writeInt(r.AmountMinor)
		h.Write([]byte(r.Direction))
		h.Write([]byte{0})
		h.Write([]byte(r.Channel))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
