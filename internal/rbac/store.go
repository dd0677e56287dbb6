package rbac

import "context"

// Store describes persistence operations required by the permission engine.
type Store interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error)
	DeleteRole(ctx context.Context, roleID string) error

	AssignRole(ctx context.Context, assignment Assignment) error
	RemoveAssignment(ctx context.Context, userID, roleID string) error
	// RolesForUser returns the roles assigned to the user within the tenant,
	// permissions included.
	RolesForUser(ctx context.Context, tenantID, userID string) ([]*Role, error)

	ListTemplates(ctx context.Context) ([]*PermissionTemplate, error)
	GetTemplate(ctx context.Context, id string) (*PermissionTemplate, error)
	ListBusinessTypes(ctx context.Context) ([]*BusinessType, error)
	GetBusinessType(ctx context.Context, id string) (*BusinessType, error)
}
