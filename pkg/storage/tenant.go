package storage

import "context"

// tenantKey is a private type for the tenant context key.
type tenantKey struct{}

// SetTenant injects a tenant identifier into the context.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant extracts the tenant identifier from the context.
// Returns an empty string if no tenant is set (single-tenant mode).
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}

// Visible reports whether a record owned by ownerTenant may be read in
// ctx. Records are visible to every caller in single-tenant mode.
func Visible(ctx context.Context, ownerTenant string) bool {
	tenant := GetTenant(ctx)
	return tenant == "" || tenant == ownerTenant
}
