package httpapi

import (
	"net/http"
	"testing"
	"time"

	"authgrid.dev/internal/auth"
)

func TestGatekeeperRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["error"] != "missing bearer token" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestGatekeeperRejectsNonBearerScheme(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil, map[string]string{
		"Authorization": "Basic dXNlcjpwYXNz",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestGatekeeperRejectsGarbageToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil,
		sessionHeaders("not-a-jwt", "t1"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestGatekeeperRequiresTenantHeader(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGatekeeperRejectsTenantMismatch(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil,
		sessionHeaders(token, "t2"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["error"] != "tenant mismatch" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestGatekeeperAcceptsValidSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	role := env.seedRole(t, "t1", "Viewer", false, "invoices.read")
	env.grantRole(t, user, role)
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil,
		sessionHeaders(token, "t1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body checkResponse
	decodeBody(t, rr, &body)
	if !body.Allowed {
		t.Fatalf("expected allowed decision, got %+v", body)
	}
}

func TestGatekeeperRejectsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")

	// Same secret and issuer, but issued far enough in the past that the
	// session has expired.
	past, err := auth.NewTokenService(
		auth.KeyConfig{Secret: "httpapi-test-secret"},
		auth.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }),
	)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	token, _, err := past.IssueSession(auth.SessionClaims{UserID: user.ID, TenantID: user.TenantID})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil,
		sessionHeaders(token, "t1"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["error"] != "token expired" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestAdminRoutesRefuseSessionTokens(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodPost, "/v1/admin/tenants/t9/roles/seed",
		map[string]any{"template_id": "tpl-1"},
		map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestTenantRoutesRefuseAdminTokens(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "root@example.com")
	token := env.adminToken(t, admin)

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil,
		sessionHeaders(token, "t1"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestGatekeeperRejectsDeactivatedAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "root@example.com")
	token := env.adminToken(t, admin)

	env.store.mu.Lock()
	env.store.admins[admin.ID].IsActive = false
	env.store.mu.Unlock()

	rr := env.do(t, http.MethodPost, "/v1/admin/tenants/t9/roles/seed",
		map[string]any{"template_id": "tpl-1"},
		map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deactivated admin, got %d", rr.Code)
	}
}
