package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Admins(ctx context.Context) AdminStore
}

// UserStore manages tenant-scoped user records.
type UserStore interface {
	Find(ctx context.Context, id string) (*TenantUser, error)
	// FindByEmail is tenant-scoped; the same email may exist in other tenants.
	FindByEmail(ctx context.Context, tenantID, email string) (*TenantUser, error)
	// CreateIfAbsent inserts the user unless (tenantID, email) already exists,
	// then returns the surviving record. Implementations must be atomic
	// (unique constraint plus conflict handling, not read-then-write) so that
	// concurrent federated logins provision exactly one record.
	CreateIfAbsent(ctx context.Context, u *TenantUser) (*TenantUser, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	TouchLastLogin(ctx context.Context, userID string) error
}

// AdminStore manages platform admin records.
type AdminStore interface {
	Find(ctx context.Context, id string) (*PlatformAdmin, error)
	FindByEmail(ctx context.Context, email string) (*PlatformAdmin, error)
}
