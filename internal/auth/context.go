package auth

import "context"

// Principal is the authenticated tenant user attached to a request context by
// the gatekeeper. Permissions are the point-in-time snapshot embedded in the
// session token, not a live lookup.
type Principal struct {
	UserID      string
	TenantID    string
	Email       string
	Permissions map[string]struct{}
}

// NewPrincipal builds a Principal from verified session claims.
func NewPrincipal(sc SessionClaims) Principal {
	set := make(map[string]struct{}, len(sc.Permissions))
	for _, p := range sc.Permissions {
		set[p] = struct{}{}
	}
	return Principal{
		UserID:      sc.UserID,
		TenantID:    sc.TenantID,
		Email:       sc.Email,
		Permissions: set,
	}
}

// HasPermission reports whether the snapshot contains the permission key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

type principalContextKey struct{}
type adminContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated tenant principal.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated tenant principal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithAdmin attaches the authenticated platform admin.
func ContextWithAdmin(ctx context.Context, admin AdminClaims) context.Context {
	return context.WithValue(ctx, adminContextKey{}, &admin)
}

// AdminFromContext extracts the authenticated platform admin.
func AdminFromContext(ctx context.Context) (AdminClaims, bool) {
	if ctx == nil {
		return AdminClaims{}, false
	}
	v, ok := ctx.Value(adminContextKey{}).(*AdminClaims)
	if !ok || v == nil {
		return AdminClaims{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
