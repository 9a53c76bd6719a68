package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTenantIDLength bounds tenant IDs so they fit cache keys and subjects.
const MaxTenantIDLength = 128

// ErrInvalidTenant is returned for tenant IDs the stores and buses cannot
// carry.
var ErrInvalidTenant = errors.New("invalid tenant ID")

// CheckTenantID reports whether id can name a tenant. A tenant ID is one
// NATS subject token, so dots, wildcards and whitespace are refused, and
// it may not be the AllTenants wildcard.
func CheckTenantID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidTenant)
	case id == AllTenants:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTenant, id)
	case len(id) > MaxTenantIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTenant, MaxTenantIDLength)
	case strings.ContainsAny(id, ".*> \t\r\n"):
		return fmt.Errorf("%w: %q may not contain dots, wildcards or whitespace", ErrInvalidTenant, id)
	}
	return nil
}
