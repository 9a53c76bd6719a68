package domain

import (
	"encoding/json"
	"time"
)

// Direction tells whether a transaction brought money in or sent it out.
type Direction string

const (
	// DirectionCredit is incoming money (observed revenue).
	DirectionCredit Direction = "credit"

	// DirectionDebit is an outgoing payment or expense.
	DirectionDebit Direction = "debit"
)

// ChannelUnknown is the channel assigned to records without one.
// It is a category of its own for diversity scoring, not an error.
const ChannelUnknown = "unknown"

// TransactionRecord is one observed payment event after normalization.
// Records are immutable; a ledger is an append-only sequence ordered by
// Timestamp with ties broken by Seq.
type TransactionRecord struct {
	ID         string    `json:"id,omitempty"`
	MerchantID string    `json:"merchantId,omitempty"`
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`

	// AmountMinor is the amount in minor currency units (paise, cents).
	AmountMinor int64     `json:"amountMinor"`
	Direction   Direction `json:"direction"`
	Channel     string    `json:"channel"`
}

// IsCredit reports whether the record is revenue.
func (r TransactionRecord) IsCredit() bool {
	return r.Direction == DirectionCredit
}

// RawRecord is a transaction as received from a producer, before validation.
// Field values are kept as strings so that malformed input can be reported
// back verbatim.
type RawRecord struct {
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp"`
	Amount    string `json:"amount"`
	Direction string `json:"direction"`
	Channel   string `json:"channel,omitempty"`
}

// UnmarshalJSON accepts both the canonical field names and the ones used by
// the mobile ledger (time, type, mode). Numbers are accepted for amount and
// timestamp.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID        json.RawMessage `json:"id"`
		Timestamp json.RawMessage `json:"timestamp"`
		Time      json.RawMessage `json:"time"`
		Amount    json.RawMessage `json:"amount"`
		Direction string          `json:"direction"`
		Type      string          `json:"type"`
		Channel   string          `json:"channel"`
		Mode      string          `json:"mode"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.ID = rawString(aux.ID)
	r.Timestamp = rawString(aux.Timestamp)
	if r.Timestamp == "" {
		r.Timestamp = rawString(aux.Time)
	}
	r.Amount = rawString(aux.Amount)
	r.Direction = aux.Direction
	if r.Direction == "" {
		r.Direction = aux.Type
	}
	r.Channel = aux.Channel
	if r.Channel == "" {
		r.Channel = aux.Mode
	}
	return nil
}

// rawString returns a JSON string's contents, or the literal text of any
// other JSON value (numbers keep their exact digits).
func rawString(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	return string(m)
}
