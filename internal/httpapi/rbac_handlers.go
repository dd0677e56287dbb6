package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"authgrid.dev/internal/audit"
	"authgrid.dev/internal/auth"
	"authgrid.dev/internal/obs"
	"authgrid.dev/internal/rbac"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type checkResponse struct {
	Allowed      bool             `json:"allowed"`
	Permission   string           `json:"permission"`
	MatchedRoles []rbac.RoleMatch `json:"matched_roles,omitempty"`
}

// handlePermissionCheck answers a point permission check for the
// authenticated principal. The matched-roles trace is included only when
// explain=true; the decision itself is computed identically either way.
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	q := r.URL.Query()
	resource := strings.TrimSpace(q.Get("resource"))
	action := strings.TrimSpace(q.Get("action"))
	if resource == "" || action == "" {
		writeError(w, r, http.StatusBadRequest, "resource and action are required")
		return
	}
	decision, err := a.rbac.Check(r.Context(), principal.UserID, principal.TenantID, resource, action)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	obs.ObservePermissionCheck(decision.Allowed)
	if !decision.Allowed {
		_ = audit.LogEvent(r.Context(), "rbac.check.denied", map[string]any{
			"user_id":    principal.UserID,
			"tenant_id":  principal.TenantID,
			"permission": decision.Permission,
		})
	}
	resp := checkResponse{Allowed: decision.Allowed, Permission: decision.Permission}
	if q.Get("explain") == "true" {
		resp.MatchedRoles = decision.MatchedRoles
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	templates, err := a.rbac.ListTemplates(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (a *API) handleBusinessTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	types, err := a.rbac.ListBusinessTypes(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"business_types": types})
}

// handleTenantScoped dispatches /v1/tenants/{id}/roles[/...] and
// /v1/tenants/{id}/users/{userId}/roles[/...].
func (a *API) handleTenantScoped(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tenantID := parts[0]
	// The gatekeeper already matched header and token; the path tenant must
	// agree as well.
	if tenantID != principal.TenantID {
		writeError(w, r, http.StatusForbidden, "tenant mismatch")
		return
	}
	switch parts[1] {
	case "roles":
		switch len(parts) {
		case 2:
			a.handleTenantRoles(w, r, tenantID)
		case 3:
			a.handleTenantRole(w, r, tenantID, parts[2])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case "users":
		switch {
		case len(parts) == 4 && parts[3] == "roles":
			a.handleUserRoles(w, r, tenantID, parts[2])
		case len(parts) == 5 && parts[3] == "roles":
			a.handleUserRole(w, r, tenantID, parts[2], parts[4])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleTenantRoles(w http.ResponseWriter, r *http.Request, tenantID string) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.rbac.ListRoles(r.Context(), tenantID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, rbac.PermManageRoles) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), tenantID, req.Name, req.Description, req.Permissions)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
			"tenant_id": tenantID,
			"role_id":   role.ID,
			"name":      role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s/roles/%s", tenantID, role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTenantRole(w http.ResponseWriter, r *http.Request, tenantID, roleID string) {
	switch r.Method {
	case http.MethodPut:
		if !a.ensurePermission(w, r, rbac.PermManageRoles) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), tenantID, roleID, rbac.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.update", map[string]any{
			"tenant_id": tenantID,
			"role_id":   roleID,
		})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, rbac.PermManageRoles) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), tenantID, roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{
			"tenant_id": tenantID,
			"role_id":   roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, tenantID, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, rbac.PermManageUsers) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	assignment, err := a.rbac.AssignRole(r.Context(), tenantID, userID, req.RoleID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.assign", map[string]any{
		"tenant_id": tenantID,
		"user_id":   userID,
		"role_id":   assignment.RoleID,
	})
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, tenantID, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, rbac.PermManageUsers) {
		return
	}
	if err := a.rbac.RevokeRole(r.Context(), tenantID, userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.revoke", map[string]any{
		"tenant_id": tenantID,
		"user_id":   userID,
		"role_id":   roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type seedRolesRequest struct {
	TemplateID     string `json:"template_id"`
	BusinessTypeID string `json:"business_type_id"`
}

// handleAdminTenantScoped dispatches /v1/admin/tenants/{id}/roles/seed. The
// gatekeeper has already verified a platform admin token for everything under
// /v1/admin/.
func (a *API) handleAdminTenantScoped(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	admin, ok := auth.AdminFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/tenants/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] != "roles" || parts[2] != "seed" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tenantID := parts[0]
	var req seedRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roles, err := a.rbac.SeedTenantRoles(r.Context(), tenantID, strings.TrimSpace(req.TemplateID), strings.TrimSpace(req.BusinessTypeID))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.roles.seed", map[string]any{
		"tenant_id": tenantID,
		"admin_id":  admin.AdminID,
		"count":     len(roles),
	})
	writeJSON(w, http.StatusCreated, map[string]any{"roles": roles})
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrSystemRole):
		writeError(w, r, http.StatusConflict, "system roles cannot be modified")
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, rbac.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	default:
		obs.LogError("rbac operation failed", err, map[string]any{"path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
