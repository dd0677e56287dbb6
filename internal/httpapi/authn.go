package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgrid.dev/internal/auth"
	"authgrid.dev/internal/obs"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	tenantHeader = "X-Tenant-ID"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/password-reset/request",
	"/v1/auth/password-reset/confirm",
	"/v1/admin/auth/login",
	"/v1/admin/auth/refresh",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

var publicPrefixes = []string{
	"/v1/auth/sso/",
}

// withAuth is the gatekeeper: every non-public request passes kind-appropriate
// token verification and tenant scoping before any handler runs.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		// Admin routes demand the platform-admin kind; a session token is not
		// an acceptable substitute, and vice versa.
		if strings.HasPrefix(r.URL.Path, "/v1/admin/") {
			a.authenticateAdmin(w, r, next, token)
			return
		}
		a.authenticateSession(w, r, next, token)
	})
}

func (a *API) authenticateSession(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	claims, err := a.auth.Tokens().Verify(r.Context(), token, auth.KindSession)
	if err != nil {
		obs.ObserveTokenVerification(string(auth.KindSession), "failure")
		writeTokenError(w, r, err)
		return
	}
	sc, err := claims.Session()
	if err != nil {
		obs.ObserveTokenVerification(string(auth.KindSession), "failure")
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	obs.ObserveTokenVerification(string(auth.KindSession), "success")

	tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
	if tenantID == "" {
		writeError(w, r, http.StatusBadRequest, "X-Tenant-ID header is required")
		return
	}
	if tenantID != sc.TenantID {
		writeError(w, r, http.StatusForbidden, "tenant mismatch")
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), auth.NewPrincipal(sc))
	ctx = auth.ContextWithToken(ctx, token)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (a *API) authenticateAdmin(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	claims, err := a.auth.Tokens().Verify(r.Context(), token, auth.KindPlatformAdmin)
	if err != nil {
		obs.ObserveTokenVerification(string(auth.KindPlatformAdmin), "failure")
		writeTokenError(w, r, err)
		return
	}
	ac, err := claims.Admin()
	if err != nil {
		obs.ObserveTokenVerification(string(auth.KindPlatformAdmin), "failure")
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	obs.ObserveTokenVerification(string(auth.KindPlatformAdmin), "success")

	ctx := auth.ContextWithAdmin(r.Context(), ac)
	ctx = auth.ContextWithToken(ctx, token)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// ensurePermission checks the principal's token-embedded permission snapshot.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.HasPermission(perm) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	default:
		obs.LogError("token verification failed", err, map[string]any{"path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "authentication error")
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
