package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"authgrid.dev/internal/rbac"
)

func TestPermissionCheckExplain(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	viewer := env.seedRole(t, "t1", "Viewer", false, "invoices.read")
	auditor := env.seedRole(t, "t1", "Auditor", false, "invoices.read", "reports.read")
	env.grantRole(t, user, viewer)
	env.grantRole(t, user, auditor)
	token := env.sessionToken(t, user)

	plain := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read", nil,
		sessionHeaders(token, "t1"))
	if plain.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", plain.Code)
	}
	var quiet checkResponse
	decodeBody(t, plain, &quiet)
	if !quiet.Allowed || len(quiet.MatchedRoles) != 0 {
		t.Fatalf("trace leaked without explain: %+v", quiet)
	}

	explained := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=read&explain=true", nil,
		sessionHeaders(token, "t1"))
	var verbose checkResponse
	decodeBody(t, explained, &verbose)
	if !verbose.Allowed || len(verbose.MatchedRoles) != 2 {
		t.Fatalf("expected two matched roles, got %+v", verbose)
	}
	if verbose.Permission != "invoices.read" {
		t.Fatalf("unexpected permission key: %q", verbose.Permission)
	}
}

func TestPermissionCheckDenied(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices&action=write&explain=true", nil,
		sessionHeaders(token, "t1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp checkResponse
	decodeBody(t, rr, &resp)
	if resp.Allowed || len(resp.MatchedRoles) != 0 {
		t.Fatalf("expected clean denial, got %+v", resp)
	}
}

func TestPermissionCheckRequiresResourceAndAction(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodGet, "/v1/rbac/check?resource=invoices", nil,
		sessionHeaders(token, "t1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRoleCreateRequiresManagePermission(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)

	rr := env.do(t, http.MethodPost, "/v1/tenants/t1/roles", createRoleRequest{
		Name:        "Editor",
		Permissions: []string{"invoices.write"},
	}, sessionHeaders(token, "t1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRoleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "admin@example.com")
	token := env.sessionToken(t, user, rbac.PermManageRoles)

	created := env.do(t, http.MethodPost, "/v1/tenants/t1/roles", createRoleRequest{
		Name:        "Editor",
		Description: "Can edit invoices",
		Permissions: []string{"invoices.write", "invoices.write", "invoices.read"},
	}, sessionHeaders(token, "t1"))
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var role rbac.Role
	decodeBody(t, created, &role)
	if len(role.Permissions) != 2 {
		t.Fatalf("permissions not deduplicated: %v", role.Permissions)
	}
	if loc := created.Header().Get("Location"); loc != "/v1/tenants/t1/roles/"+role.ID {
		t.Fatalf("unexpected Location header: %q", loc)
	}

	name := "Senior Editor"
	updated := env.do(t, http.MethodPut, "/v1/tenants/t1/roles/"+role.ID, map[string]any{
		"name": name,
	}, sessionHeaders(token, "t1"))
	if updated.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", updated.Code, updated.Body.String())
	}
	var renamed rbac.Role
	decodeBody(t, updated, &renamed)
	if renamed.Name != name {
		t.Fatalf("rename lost: %+v", renamed)
	}

	listed := env.do(t, http.MethodGet, "/v1/tenants/t1/roles", nil, sessionHeaders(token, "t1"))
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	var listing struct {
		Roles []rbac.Role `json:"roles"`
	}
	decodeBody(t, listed, &listing)
	if len(listing.Roles) != 1 {
		t.Fatalf("expected one role, got %d", len(listing.Roles))
	}

	deleted := env.do(t, http.MethodDelete, "/v1/tenants/t1/roles/"+role.ID, nil, sessionHeaders(token, "t1"))
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", deleted.Code)
	}
	gone := env.do(t, http.MethodDelete, "/v1/tenants/t1/roles/"+role.ID, nil, sessionHeaders(token, "t1"))
	if gone.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", gone.Code)
	}
}

func TestSystemRoleRefusesModification(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "admin@example.com")
	system := env.seedRole(t, "t1", "Owner", true, "invoices.read", "invoices.write")
	token := env.sessionToken(t, user, rbac.PermManageRoles)

	name := "Renamed"
	updated := env.do(t, http.MethodPut, "/v1/tenants/t1/roles/"+system.ID, map[string]any{
		"name": name,
	}, sessionHeaders(token, "t1"))
	if updated.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", updated.Code, updated.Body.String())
	}

	deleted := env.do(t, http.MethodDelete, "/v1/tenants/t1/roles/"+system.ID, nil, sessionHeaders(token, "t1"))
	if deleted.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", deleted.Code)
	}
}

func TestPathTenantMustMatchPrincipal(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user, rbac.PermManageRoles)

	rr := env.do(t, http.MethodGet, "/v1/tenants/t2/roles", nil, sessionHeaders(token, "t1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAssignAndRevokeRoleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	manager := env.seedUser(t, "t1", "manager@example.com")
	member := env.seedUser(t, "t1", "member@example.com")
	role := env.seedRole(t, "t1", "Editor", false, "invoices.write")
	token := env.sessionToken(t, manager, rbac.PermManageUsers)

	assigned := env.do(t, http.MethodPost, "/v1/tenants/t1/users/"+member.ID+"/roles",
		assignRoleRequest{RoleID: role.ID}, sessionHeaders(token, "t1"))
	if assigned.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", assigned.Code, assigned.Body.String())
	}
	decision, err := env.engine.Check(context.Background(), member.ID, "t1", "invoices", "write")
	if err != nil || !decision.Allowed {
		t.Fatalf("assignment did not take effect: %v %+v", err, decision)
	}

	revoked := env.do(t, http.MethodDelete, "/v1/tenants/t1/users/"+member.ID+"/roles/"+role.ID,
		nil, sessionHeaders(token, "t1"))
	if revoked.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", revoked.Code)
	}
	decision, err = env.engine.Check(context.Background(), member.ID, "t1", "invoices", "write")
	if err != nil || decision.Allowed {
		t.Fatalf("revocation did not take effect: %v %+v", err, decision)
	}
}

func TestAssignRoleRequiresRoleID(t *testing.T) {
	env := newTestEnv(t)
	manager := env.seedUser(t, "t1", "manager@example.com")
	token := env.sessionToken(t, manager, rbac.PermManageUsers)

	rr := env.do(t, http.MethodPost, "/v1/tenants/t1/users/u2/roles",
		assignRoleRequest{}, sessionHeaders(token, "t1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTemplatesAndBusinessTypesEndpoints(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "t1", "jo@example.com")
	token := env.sessionToken(t, user)
	now := time.Now().UTC()
	env.rbacStore.mu.Lock()
	env.rbacStore.templates["tpl-1"] = &rbac.PermissionTemplate{
		ID: "tpl-1", Name: "Standard", Permissions: []string{"invoices.read"}, CreatedAt: now,
	}
	env.rbacStore.businessTypes["bt-1"] = &rbac.BusinessType{
		ID: "bt-1", Name: "Retail", DefaultPermissions: []string{"pos.use"}, CreatedAt: now,
	}
	env.rbacStore.mu.Unlock()

	templates := env.do(t, http.MethodGet, "/v1/rbac/templates", nil, sessionHeaders(token, "t1"))
	if templates.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", templates.Code)
	}
	var tplBody struct {
		Templates []rbac.PermissionTemplate `json:"templates"`
	}
	decodeBody(t, templates, &tplBody)
	if len(tplBody.Templates) != 1 || tplBody.Templates[0].Name != "Standard" {
		t.Fatalf("unexpected templates: %+v", tplBody.Templates)
	}

	types := env.do(t, http.MethodGet, "/v1/rbac/business-types", nil, sessionHeaders(token, "t1"))
	if types.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", types.Code)
	}
	var btBody struct {
		BusinessTypes []rbac.BusinessType `json:"business_types"`
	}
	decodeBody(t, types, &btBody)
	if len(btBody.BusinessTypes) != 1 || btBody.BusinessTypes[0].Name != "Retail" {
		t.Fatalf("unexpected business types: %+v", btBody.BusinessTypes)
	}
}

func TestAdminSeedsTenantRoles(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "root@example.com")
	token := env.adminToken(t, admin)
	now := time.Now().UTC()
	env.rbacStore.mu.Lock()
	env.rbacStore.templates["tpl-1"] = &rbac.PermissionTemplate{
		ID: "tpl-1", Name: "Standard", Permissions: []string{"invoices.read", "invoices.write"}, CreatedAt: now,
	}
	env.rbacStore.businessTypes["bt-1"] = &rbac.BusinessType{
		ID: "bt-1", Name: "Retail", DefaultPermissions: []string{"pos.use"}, CreatedAt: now,
	}
	env.rbacStore.mu.Unlock()

	rr := env.do(t, http.MethodPost, "/v1/admin/tenants/t9/roles/seed", seedRolesRequest{
		TemplateID:     "tpl-1",
		BusinessTypeID: "bt-1",
	}, map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Roles []rbac.Role `json:"roles"`
	}
	decodeBody(t, rr, &body)
	if len(body.Roles) != 2 {
		t.Fatalf("expected two seeded roles, got %d", len(body.Roles))
	}
	for _, role := range body.Roles {
		if !role.IsSystemRole || role.TenantID != "t9" {
			t.Fatalf("seeded role is not a tenant system role: %+v", role)
		}
	}
}

func TestAdminSeedUnknownTemplate(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t, "root@example.com")
	token := env.adminToken(t, admin)

	rr := env.do(t, http.MethodPost, "/v1/admin/tenants/t9/roles/seed", seedRolesRequest{
		TemplateID: "ghost",
	}, map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
