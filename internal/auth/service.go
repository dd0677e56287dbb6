package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgrid.dev/internal/ids"
)

// PermissionSource resolves a user's effective permission set at token
// issuance time. The snapshot is embedded in the session token.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID, tenantID string) ([]string, error)
}

// Service wires credential verification, provisioning, and token issuance.
type Service struct {
	store  Store
	tokens *TokenService
	perms  PermissionSource
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the authentication service.
func NewService(store Store, tokens *TokenService, perms PermissionSource, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if perms == nil {
		return nil, errors.New("auth: permission source is required")
	}
	svc := &Service{store: store, tokens: tokens, perms: perms, now: time.Now}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the underlying token service for verification paths.
func (s *Service) Tokens() *TokenService { return s.tokens }

// LoginResult is the outcome of a successful login, local or federated.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *TenantUser
}

// Login authenticates a tenant user with local credentials and issues a
// session token. Unknown user, wrong password, and SSO-only accounts all
// surface as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, tenantID, email, password string) (LoginResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	email = strings.TrimSpace(strings.ToLower(email))
	if tenantID == "" || email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if user.Status != UserStatusActive {
		return LoginResult{}, ErrInactiveAccount
	}
	// SSO-only users have no usable password hash; refuse, never bypass.
	if user.PasswordHash == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}
	return s.completeLogin(ctx, user)
}

// VerifyLocalCredentials checks local credentials and returns the normalized
// identity without issuing a token. The local federation adapter delegates
// here.
func (s *Service) VerifyLocalCredentials(ctx context.Context, tenantID, email, password string) (Identity, error) {
	tenantID = strings.TrimSpace(tenantID)
	email = strings.TrimSpace(strings.ToLower(email))
	if tenantID == "" || email == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if user.Status != UserStatusActive {
		return Identity{}, ErrInactiveAccount
	}
	if user.PasswordHash == "" {
		return Identity{}, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{Email: user.Email, DisplayName: user.Email, ProviderType: "local"}, nil
}

// Resolve finds or just-in-time-creates the tenant user for a verified
// federated identity. Repeated logins for the same identity resolve to the
// same record; the store's CreateIfAbsent makes the race harmless.
func (s *Service) Resolve(ctx context.Context, identity Identity, tenantID string) (*TenantUser, error) {
	tenantID = strings.TrimSpace(tenantID)
	email := strings.TrimSpace(strings.ToLower(identity.Email))
	if tenantID == "" || email == "" {
		return nil, fmt.Errorf("%w: tenant id and identity email are required", ErrInvalidInput)
	}
	placeholder, err := placeholderPasswordHash()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return s.store.Users(ctx).CreateIfAbsent(ctx, &TenantUser{
		ID:       ids.New(),
		TenantID: tenantID,
		Email:    email,
		// Random and never communicated; nobody can log in locally with it.
		PasswordHash: placeholder,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// FederatedLogin provisions (if needed) and logs in a user whose identity was
// already verified by a federation adapter.
func (s *Service) FederatedLogin(ctx context.Context, identity Identity, tenantID string) (LoginResult, error) {
	user, err := s.Resolve(ctx, identity, tenantID)
	if err != nil {
		return LoginResult{}, err
	}
	if user.Status != UserStatusActive {
		return LoginResult{}, ErrInactiveAccount
	}
	return s.completeLogin(ctx, user)
}

func (s *Service) completeLogin(ctx context.Context, user *TenantUser) (LoginResult, error) {
	perms, err := s.perms.EffectivePermissions(ctx, user.ID, user.TenantID)
	if err != nil {
		return LoginResult{}, err
	}
	token, expiresAt, err := s.tokens.IssueSession(SessionClaims{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Email:       user.Email,
		Permissions: perms,
	})
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.store.Users(ctx).TouchLastLogin(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// AdminLoginResult carries the platform-admin access and refresh tokens.
type AdminLoginResult struct {
	Token            string
	ExpiresAt        time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Admin            *PlatformAdmin
}

// AdminLogin authenticates a platform admin and issues an admin token plus a
// long-lived refresh token.
func (s *Service) AdminLogin(ctx context.Context, email, password string) (AdminLoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return AdminLoginResult{}, ErrInvalidCredentials
	}
	admin, err := s.store.Admins(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AdminLoginResult{}, ErrInvalidCredentials
		}
		return AdminLoginResult{}, err
	}
	if !admin.IsActive {
		return AdminLoginResult{}, ErrInactiveAccount
	}
	ok, err := VerifyPassword(admin.PasswordHash, password)
	if err != nil {
		return AdminLoginResult{}, err
	}
	if !ok {
		return AdminLoginResult{}, ErrInvalidCredentials
	}
	token, expiresAt, err := s.tokens.IssueAdmin(AdminClaims{
		AdminID: admin.ID,
		Email:   admin.Email,
		Name:    admin.Name,
		Role:    admin.Role,
	})
	if err != nil {
		return AdminLoginResult{}, err
	}
	refresh, refreshExp, err := s.tokens.Issue(Claims{
		Kind:             KindRefresh,
		Email:            admin.Email,
		RegisteredClaims: registeredSubject(admin.ID),
	})
	if err != nil {
		return AdminLoginResult{}, err
	}
	return AdminLoginResult{
		Token:            token,
		ExpiresAt:        expiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Admin:            admin,
	}, nil
}

// AdminRefresh exchanges a currently-valid refresh token for a fresh admin
// token, re-reading the admin record so revoked admins stop here.
func (s *Service) AdminRefresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, KindRefresh)
	if err != nil {
		return "", time.Time{}, err
	}
	admin, err := s.store.Admins(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, ErrInvalidToken
		}
		return "", time.Time{}, err
	}
	if !admin.IsActive {
		return "", time.Time{}, ErrInvalidToken
	}
	return s.tokens.IssueAdmin(AdminClaims{
		AdminID: admin.ID,
		Email:   admin.Email,
		Name:    admin.Name,
		Role:    admin.Role,
	})
}

// RequestPasswordReset issues a password-reset token for an existing active
// user. Callers must answer uniformly whether or not the user exists; the
// ErrNotFound here is for the audit log, not the HTTP response.
func (s *Service) RequestPasswordReset(ctx context.Context, tenantID, email string) (string, time.Time, error) {
	tenantID = strings.TrimSpace(tenantID)
	email = strings.TrimSpace(strings.ToLower(email))
	if tenantID == "" || email == "" {
		return "", time.Time{}, fmt.Errorf("%w: tenant id and email are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, tenantID, email)
	if err != nil {
		return "", time.Time{}, err
	}
	if user.Status != UserStatusActive {
		return "", time.Time{}, ErrInactiveAccount
	}
	return s.tokens.Issue(Claims{
		Kind:             KindPasswordReset,
		TenantID:         user.TenantID,
		Email:            user.Email,
		RegisteredClaims: registeredSubject(user.ID),
	})
}

// ConfirmPasswordReset verifies a reset token and replaces the user's
// password hash.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.Verify(ctx, token, KindPasswordReset)
	if err != nil {
		return err
	}
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.Users(ctx).UpdatePassword(ctx, claims.Subject, hash)
}

// placeholderPasswordHash produces a hash of 32 random bytes that is never
// stored or shown in plaintext anywhere, so JIT-provisioned users cannot log
// in locally until an admin sets a real password.
func placeholderPasswordHash() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate placeholder password: %w", err)
	}
	return HashPassword(base64.RawURLEncoding.EncodeToString(raw))
}
