package federation

import (
	"context"
	"fmt"
	"strings"

	"authgrid.dev/internal/auth"
)

// LocalCredentialChecker verifies a password against the tenant's stored
// hash and returns the normalized identity. The auth service implements it.
type LocalCredentialChecker interface {
	VerifyLocalCredentials(ctx context.Context, tenantID, email, password string) (auth.Identity, error)
}

// localProvider wraps the credential verifier behind the common adapter
// contract. It is not federation-based: there is no redirect round trip.
type localProvider struct {
	cfg     Config
	checker LocalCredentialChecker
}

func newLocalProvider(cfg Config, checker LocalCredentialChecker) (Provider, error) {
	if checker == nil {
		return nil, fmt.Errorf("%w: local credential checker is required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrNotConfigured)
	}
	return &localProvider{cfg: cfg, checker: checker}, nil
}

func (p *localProvider) Type() Type { return TypeLocal }

func (p *localProvider) Initiate(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: local provider has no redirect flow", ErrFederation)
}

func (p *localProvider) CompleteCallback(ctx context.Context, params CallbackParams) (auth.Identity, error) {
	return p.checker.VerifyLocalCredentials(ctx, p.cfg.TenantID, params.Email, params.Password)
}
