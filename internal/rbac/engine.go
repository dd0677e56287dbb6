package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"authgrid.dev/internal/ids"
)

var (
	ErrInvalidInput     = errors.New("rbac: invalid input")
	ErrNotFound         = errors.New("rbac: not found")
	ErrPermissionDenied = errors.New("rbac: permission denied")
	// ErrSystemRole marks attempts to modify or delete a seeded system role.
	ErrSystemRole = errors.New("rbac: system roles cannot be modified")
)

// Built-in permission keys used by the service's own administrative surface.
const (
	PermManageRoles = "roles.manage"
	PermManageUsers = "users.manage"
)

// Engine computes effective permissions and answers point checks with an
// explainable trace. Templates and business types only matter at seeding
// time; checks read current role assignments exclusively.
type Engine struct {
	store Store
	now   func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs the permission resolution engine.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EffectivePermissions returns the sorted union of permissions across all
// roles assigned to the user within the tenant.
func (e *Engine) EffectivePermissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	tenantID = strings.TrimSpace(tenantID)
	if userID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: user id and tenant id are required", ErrInvalidInput)
	}
	roles, err := e.store.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, role := range roles {
		for _, p := range role.Permissions {
			p = strings.TrimSpace(p)
			if p != "" {
				set[p] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Check evaluates whether the user holds resource.action in the tenant. The
// decision always carries the matched-roles trace; callers that only need a
// boolean project it with Decision.Allowed.
func (e *Engine) Check(ctx context.Context, userID, tenantID, resource, action string) (Decision, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return Decision{}, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	key := resource + "." + action
	roles, err := e.store.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Permission: key}
	for _, role := range roles {
		for _, p := range role.Permissions {
			if p == key {
				decision.MatchedRoles = append(decision.MatchedRoles, RoleMatch{
					RoleID:   role.ID,
					RoleName: role.Name,
				})
				break
			}
		}
	}
	decision.Allowed = len(decision.MatchedRoles) > 0
	return decision, nil
}

// Require returns ErrPermissionDenied unless the check allows.
func (e *Engine) Require(ctx context.Context, userID, tenantID, resource, action string) error {
	decision, err := e.Check(ctx, userID, tenantID, resource, action)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, decision.Permission)
	}
	return nil
}

// CreateRole creates a tenant-owned, admin-editable role.
func (e *Engine) CreateRole(ctx context.Context, tenantID, name, description string, permissions []string) (*Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	name = strings.TrimSpace(name)
	if tenantID == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant id and role name are required", ErrInvalidInput)
	}
	now := e.now().UTC()
	role := &Role{
		ID:          ids.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: dedupePermissions(permissions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole applies partial changes to a role, refusing system roles.
func (e *Engine) UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (*Role, error) {
	role, err := e.requireTenantRole(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if !role.CanBeModified() {
		return nil, ErrSystemRole
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Permissions != nil {
		upd.Permissions = dedupePermissions(upd.Permissions)
	}
	return e.store.UpdateRole(ctx, roleID, upd)
}

// DeleteRole removes a role, refusing system roles.
func (e *Engine) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	role, err := e.requireTenantRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if !role.CanBeModified() {
		return ErrSystemRole
	}
	return e.store.DeleteRole(ctx, roleID)
}

// ListRoles lists the tenant's roles.
func (e *Engine) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	return e.store.ListRoles(ctx, tenantID)
}

// AssignRole grants a role to a user. The role must belong to the tenant.
func (e *Engine) AssignRole(ctx context.Context, tenantID, userID, roleID string) (Assignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Assignment{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if _, err := e.requireTenantRole(ctx, tenantID, roleID); err != nil {
		return Assignment{}, err
	}
	assignment := Assignment{
		UserID:    userID,
		RoleID:    roleID,
		TenantID:  tenantID,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.AssignRole(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	return assignment, nil
}

// RevokeRole removes a role assignment.
func (e *Engine) RevokeRole(ctx context.Context, tenantID, userID, roleID string) error {
	if _, err := e.requireTenantRole(ctx, tenantID, roleID); err != nil {
		return err
	}
	return e.store.RemoveAssignment(ctx, userID, roleID)
}

// ListTemplates lists the tenant-independent template catalog.
func (e *Engine) ListTemplates(ctx context.Context) ([]*PermissionTemplate, error) {
	return e.store.ListTemplates(ctx)
}

// ListBusinessTypes lists the business-type catalog.
func (e *Engine) ListBusinessTypes(ctx context.Context) ([]*BusinessType, error) {
	return e.store.ListBusinessTypes(ctx)
}

// SeedTenantRoles creates the tenant's initial system roles from a template
// and/or business type at onboarding. This is the only point where the
// catalogs influence permissions; changing a tenant's template afterwards
// does not re-derive already-created roles.
func (e *Engine) SeedTenantRoles(ctx context.Context, tenantID, templateID, businessTypeID string) ([]*Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	if templateID == "" && businessTypeID == "" {
		return nil, fmt.Errorf("%w: a template or business type is required", ErrInvalidInput)
	}
	now := e.now().UTC()
	var seeded []*Role
	if templateID != "" {
		tpl, err := e.store.GetTemplate(ctx, templateID)
		if err != nil {
			return nil, err
		}
		role := &Role{
			ID:           ids.New(),
			TenantID:     tenantID,
			Name:         tpl.Name,
			Description:  "Seeded from the " + tpl.Name + " template",
			Permissions:  dedupePermissions(tpl.Permissions),
			IsSystemRole: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.store.CreateRole(ctx, role); err != nil {
			return nil, err
		}
		seeded = append(seeded, role)
	}
	if businessTypeID != "" {
		bt, err := e.store.GetBusinessType(ctx, businessTypeID)
		if err != nil {
			return nil, err
		}
		role := &Role{
			ID:           ids.New(),
			TenantID:     tenantID,
			Name:         bt.Name + " Member",
			Description:  "Default permissions for the " + bt.Name + " vertical",
			Permissions:  dedupePermissions(bt.DefaultPermissions),
			IsSystemRole: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.store.CreateRole(ctx, role); err != nil {
			return nil, err
		}
		seeded = append(seeded, role)
	}
	return seeded, nil
}

func (e *Engine) requireTenantRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: tenant id and role id are required", ErrInvalidInput)
	}
	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return role, nil
}

func dedupePermissions(perms []string) []string {
	if len(perms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
