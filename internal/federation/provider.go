package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"authgrid.dev/internal/auth"
)

var (
	// ErrFederation covers provider-unreachable, malformed assertions,
	// missing required attributes, and signature validation failures.
	ErrFederation = errors.New("federation: provider error")
	// ErrInvalidState marks a malformed state value or a state/tenant mismatch.
	ErrInvalidState = errors.New("federation: invalid state")
	// ErrNotConfigured means the tenant has no usable configuration for the
	// requested provider type.
	ErrNotConfigured = errors.New("federation: provider not configured for tenant")
)

// Type identifies one federation protocol variant.
type Type string

const (
	TypeLocal     Type = "local"
	TypeDirectory Type = "directory"
	TypeOAuth2    Type = "oauth2"
	TypeSAML      Type = "saml"
)

// outboundTimeout bounds every call to an external token or userinfo
// endpoint so a slow provider cannot hold a login goroutine indefinitely.
const outboundTimeout = 10 * time.Second

// Config is the per-tenant provider configuration. Credentials are always
// tenant-owned, never process-global: one tenant's misconfiguration cannot
// affect another tenant's logins.
type Config struct {
	TenantID    string
	TenantOrgID string
	Type        Type

	// OAuth2/OIDC
	DirectoryTenantID string
	ClientID          string
	ClientSecret      string
	Domain            string
	RedirectURL       string
	Scopes            []string

	// Endpoint overrides for sovereign clouds and tests. Empty means the
	// provider's well-known endpoints derived from DirectoryTenantID/Domain.
	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string

	// SAML
	IDPEntityID       string
	IDPSSOURL         string
	IDPCertificatePEM string
	SPEntityID        string
	CallbackURL       string
}

// CallbackParams carries the protocol-specific proof delivered to the
// callback endpoint.
type CallbackParams struct {
	Code         string
	SAMLResponse string
	State        string

	// Local variant only; there is no redirect round trip.
	Email    string
	Password string
}

// Provider turns a protocol-specific proof into a normalized identity.
type Provider interface {
	Type() Type
	// Initiate returns the external authorization URL carrying the encoded
	// state. The local variant has no redirect and fails here.
	Initiate(ctx context.Context, state string) (string, error)
	// CompleteCallback verifies the proof and extracts the identity. A
	// missing email attribute is a hard failure, never default-to-anonymous.
	CompleteCallback(ctx context.Context, params CallbackParams) (auth.Identity, error)
}

// Builder constructs a provider from one tenant's configuration.
type Builder func(cfg Config) (Provider, error)

// Registry dispatches provider construction by type. Adding a protocol means
// registering a builder, not touching the dispatcher.
type Registry struct {
	builders map[Type]Builder
}

// NewRegistry returns a registry with the four built-in variants. The local
// variant needs the credential checker it wraps.
func NewRegistry(local LocalCredentialChecker) *Registry {
	r := &Registry{builders: make(map[Type]Builder)}
	r.Register(TypeDirectory, newDirectoryProvider)
	r.Register(TypeOAuth2, newOAuth2Provider)
	r.Register(TypeSAML, newSAMLProvider)
	r.Register(TypeLocal, func(cfg Config) (Provider, error) {
		return newLocalProvider(cfg, local)
	})
	return r
}

// Register installs or replaces the builder for a provider type.
func (r *Registry) Register(t Type, b Builder) {
	r.builders[t] = b
}

// Build constructs a provider for the tenant configuration.
func (r *Registry) Build(cfg Config) (Provider, error) {
	b, ok := r.builders[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider type %q", ErrNotConfigured, cfg.Type)
	}
	return b(cfg)
}

// Types lists the registered provider types, sorted for stable output.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.builders))
	for t := range r.builders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func outboundClient() *http.Client {
	return &http.Client{Timeout: outboundTimeout}
}
