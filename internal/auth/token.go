package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates the incompatible token shapes sharing one verification
// path. It is checked before any claim field is trusted.
type Kind string

const (
	KindSession       Kind = "session"
	KindPlatformAdmin Kind = "platform_admin"
	KindPasswordReset Kind = "password_reset"
	KindRefresh       Kind = "refresh"
)

const (
	defaultSessionTTL       = 60 * time.Minute
	defaultPlatformAdminTTL = 8 * time.Hour
	defaultPasswordResetTTL = time.Hour
	defaultRefreshTTL       = 7 * 24 * time.Hour
)

// KeyConfig carries the signing material resolved once at process startup and
// passed by reference into NewTokenService. RS256 is selected when both PEM
// keys are present, HS256 otherwise.
type KeyConfig struct {
	Secret        string
	PrivateKeyPEM string
	PublicKeyPEM  string
}

// UsesKeypair reports whether asymmetric signing material is configured.
func (c KeyConfig) UsesKeypair() bool {
	return strings.TrimSpace(c.PrivateKeyPEM) != "" && strings.TrimSpace(c.PublicKeyPEM) != ""
}

// Validate reports the startup-fatal condition: no symmetric secret in a
// non-keypair configuration.
func (c KeyConfig) Validate() error {
	if c.UsesKeypair() {
		return nil
	}
	if strings.TrimSpace(c.Secret) == "" {
		return errors.New("auth: signing secret is not configured and no keypair is present")
	}
	return nil
}

// Claims is the signed wire shape for every token kind. Kind selects which
// fields are meaningful; the typed projections below enforce that.
type Claims struct {
	Kind        Kind     `json:"kind"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionClaims is the tenant-user projection of Claims.
type SessionClaims struct {
	UserID      string
	TenantID    string
	Email       string
	Permissions []string
}

// AdminClaims is the platform-admin projection of Claims.
type AdminClaims struct {
	AdminID string
	Email   string
	Name    string
	Role    string
}

// Session projects tenant-user fields. Fails unless the kind matches.
func (c *Claims) Session() (SessionClaims, error) {
	if c.Kind != KindSession {
		return SessionClaims{}, fmt.Errorf("%w: kind %q is not a session token", ErrInvalidToken, c.Kind)
	}
	return SessionClaims{
		UserID:      c.Subject,
		TenantID:    c.TenantID,
		Email:       c.Email,
		Permissions: c.Permissions,
	}, nil
}

// Admin projects platform-admin fields. Fails unless the kind matches.
func (c *Claims) Admin() (AdminClaims, error) {
	if c.Kind != KindPlatformAdmin {
		return AdminClaims{}, fmt.Errorf("%w: kind %q is not a platform admin token", ErrInvalidToken, c.Kind)
	}
	return AdminClaims{
		AdminID: c.Subject,
		Email:   c.Email,
		Name:    c.Name,
		Role:    c.Role,
	}, nil
}

// AdminDirectory re-checks a platform admin's current active status during
// token verification, so a stale "active" claim cannot extend a deactivated
// admin's access.
type AdminDirectory interface {
	AdminActive(ctx context.Context, adminID string) (bool, error)
}

// TokenService issues and verifies signed tokens. The signing algorithm is
// fixed at construction from KeyConfig and never taken from a token header.
type TokenService struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	now       func() time.Time
	admins    AdminDirectory
	ttls      map[Kind]time.Duration
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAdminDirectory enables the active-status re-check for platform admin
// tokens.
func WithAdminDirectory(dir AdminDirectory) TokenOption {
	return func(s *TokenService) error {
		s.admins = dir
		return nil
	}
}

// WithTTL overrides the lifetime for one token kind.
func WithTTL(kind Kind, ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl <= 0 {
			return fmt.Errorf("auth: ttl for %s must be positive", kind)
		}
		s.ttls[kind] = ttl
		return nil
	}
}

// NewTokenService selects the signing scheme from cfg and applies options.
func NewTokenService(cfg KeyConfig, opts ...TokenOption) (*TokenService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc := &TokenService{
		issuer: "authgrid",
		now:    time.Now,
		ttls: map[Kind]time.Duration{
			KindSession:       defaultSessionTTL,
			KindPlatformAdmin: defaultPlatformAdminTTL,
			KindPasswordReset: defaultPasswordResetTTL,
			KindRefresh:       defaultRefreshTTL,
		},
	}
	if cfg.UsesKeypair() {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("auth: parse private key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("auth: parse public key: %w", err)
		}
		svc.method = jwt.SigningMethodRS256
		svc.signKey = priv
		svc.verifyKey = pub
	} else {
		secret := []byte(strings.TrimSpace(cfg.Secret))
		svc.method = jwt.SigningMethodHS256
		svc.signKey = secret
		svc.verifyKey = secret
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Algorithm returns the signing algorithm name selected at construction.
func (s *TokenService) Algorithm() string {
	return s.method.Alg()
}

// Issue signs the claims with the configured algorithm and stamps fresh
// timing fields. The kind's TTL always sets the expiry.
func (s *TokenService) Issue(claims Claims) (string, time.Time, error) {
	if claims.Kind == "" {
		return "", time.Time{}, fmt.Errorf("%w: token kind is required", ErrInvalidInput)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, fmt.Errorf("%w: token subject is required", ErrInvalidInput)
	}
	ttl, ok := s.ttls[claims.Kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, claims.Kind)
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	claims.Issuer = s.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.ID = uuid.NewString()

	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueSession issues a tenant-user session token embedding a point-in-time
// permission snapshot.
func (s *TokenService) IssueSession(sc SessionClaims) (string, time.Time, error) {
	return s.Issue(Claims{
		Kind:             KindSession,
		TenantID:         sc.TenantID,
		Email:            sc.Email,
		Permissions:      sc.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{Subject: sc.UserID},
	})
}

// IssueAdmin issues a platform-admin token.
func (s *TokenService) IssueAdmin(ac AdminClaims) (string, time.Time, error) {
	return s.Issue(Claims{
		Kind:             KindPlatformAdmin,
		Email:            ac.Email,
		Name:             ac.Name,
		Role:             ac.Role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: ac.AdminID},
	})
}

// Verify checks the signature with the algorithm fixed at construction,
// validates timing, and requires the embedded kind to match expected.
// Verification fails closed.
func (s *TokenService) Verify(ctx context.Context, token string, expected Kind) (*Claims, error) {
	claims, err := s.parse(token, true)
	if err != nil {
		return nil, err
	}
	if claims.Kind != expected {
		return nil, fmt.Errorf("%w: expected %s token, got %s", ErrInvalidToken, expected, claims.Kind)
	}
	if claims.Kind == KindPlatformAdmin && s.admins != nil {
		active, err := s.admins.AdminActive(ctx, claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("verify admin status: %w", err)
		}
		if !active {
			return nil, fmt.Errorf("%w: admin is no longer active", ErrInvalidToken)
		}
	}
	return claims, nil
}

// Refresh re-issues a token whose signature is still valid, discarding only
// its previous timing claims. Any other verification failure still rejects.
// Password-reset tokens are not refreshable; that would extend the reset
// window indefinitely.
func (s *TokenService) Refresh(ctx context.Context, oldToken string) (string, time.Time, error) {
	claims, err := s.parse(oldToken, false)
	if err != nil {
		return "", time.Time{}, err
	}
	if claims.Kind == KindPasswordReset {
		return "", time.Time{}, fmt.Errorf("%w: password reset tokens cannot be refreshed", ErrInvalidToken)
	}
	if claims.Kind == KindPlatformAdmin && s.admins != nil {
		active, err := s.admins.AdminActive(ctx, claims.Subject)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("verify admin status: %w", err)
		}
		if !active {
			return "", time.Time{}, fmt.Errorf("%w: admin is no longer active", ErrInvalidToken)
		}
	}
	fresh := *claims
	fresh.RegisteredClaims = jwt.RegisteredClaims{Subject: claims.Subject}
	return s.Issue(fresh)
}

func (s *TokenService) parse(token string, validateTiming bool) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
	}
	if validateTiming {
		opts = append(opts, jwt.WithExpirationRequired())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, s.keyfunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind == "" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if !validateTiming && !strings.EqualFold(claims.Issuer, s.issuer) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func registeredSubject(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: sub}
}

func (s *TokenService) keyfunc(t *jwt.Token) (any, error) {
	// Defense in depth: WithValidMethods already pins the algorithm, but the
	// key must never be handed to a mismatched method.
	if t.Method.Alg() != s.method.Alg() {
		return nil, ErrInvalidToken
	}
	return s.verifyKey, nil
}
