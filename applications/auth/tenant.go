package auth

import "strings"

// ResolveTenantOverride extracts a requested tenant switch from the
// X-Tenant-ID header or ?tenant= query parameter. Only a platform admin's
// claims are honored against an override — applications/httpapi checks
// PlatformAdmin before applying it.
func ResolveTenantOverride(headerVal, queryVal string) string {
	if t := strings.TrimSpace(headerVal); t != "" {
		return t
	}
	return strings.TrimSpace(queryVal)
}
