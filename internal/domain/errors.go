package domain

import (
	"fmt"
	"strings"
)

// Rejection describes one raw record the normalizer refused.
type Rejection struct {
	Index  int       `json:"index"`
	Record RawRecord `json:"record"`
	Reason string    `json:"reason"`
}

// ValidationError lists the records excluded from a window. It is not fatal:
// the window built from the remaining records is returned alongside it.
type ValidationError struct {
	Rejected []Rejection `json:"rejected"`
}

func (e *ValidationError) Error() string {
	if len(e.Rejected) == 1 {
		r := e.Rejected[0]
		return fmt.Sprintf("1 record rejected: #%d: %s", r.Index, r.Reason)
	}
	reasons := make([]string, 0, 3)
	for i, r := range e.Rejected {
		if i == 3 {
			reasons = append(reasons, "...")
			break
		}
		reasons = append(reasons, fmt.Sprintf("#%d: %s", r.Index, r.Reason))
	}
	return fmt.Sprintf("%d records rejected: %s", len(e.Rejected), strings.Join(reasons, "; "))
}

// ConfigurationError signals invalid scoring configuration, such as weights
// that do not sum to 1.0. It is fatal for the call.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
