package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"authgrid.dev/internal/federation"
)

// FederationConfig loads the tenant-owned provider configuration for one
// org and provider type. It is the boundary to the tenant-configuration
// collaborator; this subsystem only reads it.
func (s *Store) FederationConfig(ctx context.Context, tenantOrgID string, t federation.Type) (federation.Config, error) {
	tenantOrgID = strings.TrimSpace(tenantOrgID)
	if tenantOrgID == "" {
		return federation.Config{}, federation.ErrInvalidState
	}
	row := s.db.QueryRowContext(ctx, `
		select c.tenant_id, c.provider_type, c.directory_tenant_id, c.client_id, c.client_secret,
		       c.domain, c.redirect_url, c.idp_entity_id, c.idp_sso_url, c.idp_certificate,
		       c.sp_entity_id, c.callback_url
		from tenant_sso_configs c
		join tenants t on t.id = c.tenant_id
		where t.org_id=$1 and c.provider_type=$2 and c.enabled
	`, tenantOrgID, string(t))

	var cfg federation.Config
	var providerType string
	var directoryTenantID, domain, redirect sql.NullString
	var idpEntityID, idpSSOURL, idpCert sql.NullString
	var spEntityID, callbackURL, clientID, clientSecret sql.NullString
	err := row.Scan(&cfg.TenantID, &providerType, &directoryTenantID, &clientID, &clientSecret,
		&domain, &redirect, &idpEntityID, &idpSSOURL, &idpCert, &spEntityID, &callbackURL)
	if errors.Is(err, sql.ErrNoRows) {
		return federation.Config{}, federation.ErrNotConfigured
	}
	if err != nil {
		return federation.Config{}, err
	}
	cfg.TenantOrgID = tenantOrgID
	cfg.Type = federation.Type(providerType)
	cfg.DirectoryTenantID = directoryTenantID.String
	cfg.ClientID = clientID.String
	cfg.ClientSecret = clientSecret.String
	cfg.Domain = domain.String
	cfg.RedirectURL = redirect.String
	cfg.IDPEntityID = idpEntityID.String
	cfg.IDPSSOURL = idpSSOURL.String
	cfg.IDPCertificatePEM = idpCert.String
	cfg.SPEntityID = spEntityID.String
	cfg.CallbackURL = callbackURL.String
	return cfg, nil
}
