package rbac

import "time"

// Role groups permission keys within one tenant. System roles are seeded
// from a template or business type at onboarding and cannot be modified by
// tenant admins; that rule is enforced here at the service layer, not in UI.
type Role struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Permissions  []string  `json:"permissions"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CanBeModified reports whether tenant admins may change this role.
func (r Role) CanBeModified() bool { return !r.IsSystemRole }

// Assignment gives a user a role within a tenant.
type Assignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PermissionTemplate is a tenant-independent catalog entry used to seed a
// tenant's initial role set. After seeding it is advisory metadata only; it
// is never consulted at check time.
type PermissionTemplate struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Permissions   []string  `json:"permissions"`
	BusinessTypes []string  `json:"business_types,omitempty"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
}

// BusinessType is a vertical-specific catalog entry whose default
// permissions seed a baseline role at onboarding.
type BusinessType struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	DefaultPermissions []string  `json:"default_permissions"`
	IsDefault          bool      `json:"is_default"`
	CreatedAt          time.Time `json:"created_at"`
}

// RoleMatch names one role that contributed a permission to a decision.
type RoleMatch struct {
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
}

// Decision is the full trace of one permission check. It is always built,
// whether or not the caller asked for the explanation, so the pass/fail path
// and the explain path cannot drift apart.
type Decision struct {
	Allowed      bool        `json:"allowed"`
	Permission   string      `json:"permission"`
	MatchedRoles []RoleMatch `json:"matched_roles,omitempty"`
}

// RoleUpdate carries partial role changes.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions []string
}
