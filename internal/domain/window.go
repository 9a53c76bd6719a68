package domain

import "time"

// LedgerWindow is a bounded, ordered view of one merchant's ledger over a
// scoring period. It is derived per request and never persisted.
type LedgerWindow struct {
	MerchantID string `json:"merchantId,omitempty"`

	// Start is the inclusive lower bound. Zero means all history.
	Start time.Time `json:"start,omitempty"`

	// End is the epoch the window is scored for (asOf).
	End time.Time `json:"end"`

	Records []TransactionRecord `json:"records"`
}

// Len returns the number of records in the window.
func (w LedgerWindow) Len() int {
	return len(w.Records)
}

// Empty reports whether the window has no records.
func (w LedgerWindow) Empty() bool {
	return len(w.Records) == 0
}
