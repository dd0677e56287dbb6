package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// TenantUser is a user record owned by one tenant. Email is unique within the
// tenant only; two tenants may contain users with the same email.
type TenantUser struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	// PasswordHash is empty for SSO-only users. Local login must be refused
	// for such users, never bypassed.
	PasswordHash string     `json:"-"`
	Status       string     `json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PlatformAdmin operates the platform itself, outside any tenant.
type PlatformAdmin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the provider-agnostic output of an identity provider adapter.
// It is never persisted; the provisioning resolver consumes it immediately.
type Identity struct {
	Email        string
	DisplayName  string
	ProviderType string
}
