package middleware

import (
	"net/http"
)

// DefaultTenantID is the tenant used when auth is disabled and no
// X-Tenant-ID header is set.
const DefaultTenantID = "00000000-0000-0000-0000-000000000000"

const headerTenantID = "X-Tenant-ID"

func headerTenant(r *http.Request) string {
	if tid := r.Header.Get(headerTenantID); tid != "" {
		return tid
	}
	return DefaultTenantID
}

// TenantIDFromRequest returns the tenant of the authenticated user. Tenant
// ids are never taken from client input when auth is enabled.
func TenantIDFromRequest(r *http.Request) string {
	if u := UserFromContext(r.Context()); u != nil {
		return u.TenantID
	}
	return ""
}
