package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckTenantID(t *testing.T) {
	for _, id := range []string{"tenant-001", "acme_ke", "ABC123"} {
		if err := CheckTenantID(id); err != nil {
			t.Errorf("CheckTenantID(%q) = %v, want nil", id, err)
		}
	}

	for _, id := range []string{"", AllTenants, "acme.eu", "a>b", "a b", "tab\there", strings.Repeat("x", MaxTenantIDLength+1)} {
		err := CheckTenantID(id)
		if !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("CheckTenantID(%q) = %v, want ErrInvalidTenant", id, err)
		}
	}
}
