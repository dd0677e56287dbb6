package federation

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"authgrid.dev/internal/auth"
)

// Attribute names tried in order when extracting the email and display name
// from a SAML assertion. The schemas.xmlsoap.org URIs are what directory
// IdPs emit by default.
var (
	samlEmailAttributes = []string{
		"email",
		"mail",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	}
	samlNameAttributes = []string{
		"displayName",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
		"cn",
	}
)

// samlProvider implements SAML 2.0 browser SSO. The signed response is
// validated against the tenant's configured IdP certificate; the state value
// rides the RelayState parameter.
type samlProvider struct {
	cfg Config
	sp  *saml2.SAMLServiceProvider
}

func newSAMLProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.IDPSSOURL) == "" {
		return nil, fmt.Errorf("%w: idp sso url is required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, fmt.Errorf("%w: assertion consumer url is required", ErrNotConfigured)
	}
	cert, err := parseIDPCertificate(cfg.IDPCertificatePEM)
	if err != nil {
		return nil, err
	}
	spEntityID := strings.TrimSpace(cfg.SPEntityID)
	if spEntityID == "" {
		spEntityID = cfg.CallbackURL
	}
	certStore := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}}
	return &samlProvider{
		cfg: cfg,
		sp: &saml2.SAMLServiceProvider{
			IdentityProviderSSOURL:      cfg.IDPSSOURL,
			IdentityProviderIssuer:      cfg.IDPEntityID,
			ServiceProviderIssuer:       spEntityID,
			AssertionConsumerServiceURL: cfg.CallbackURL,
			AudienceURI:                 spEntityID,
			IDPCertificateStore:         certStore,
			SignAuthnRequests:           false,
		},
	}, nil
}

func (p *samlProvider) Type() Type { return TypeSAML }

func (p *samlProvider) Initiate(_ context.Context, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", ErrInvalidState
	}
	url, err := p.sp.BuildAuthURL(state)
	if err != nil {
		return "", fmt.Errorf("%w: build auth request: %v", ErrFederation, err)
	}
	return url, nil
}

func (p *samlProvider) CompleteCallback(_ context.Context, params CallbackParams) (auth.Identity, error) {
	if strings.TrimSpace(params.SAMLResponse) == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing SAML response", ErrFederation)
	}
	info, err := p.sp.RetrieveAssertionInfo(params.SAMLResponse)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: assertion validation failed: %v", ErrFederation, err)
	}
	if info.WarningInfo.InvalidTime {
		return auth.Identity{}, fmt.Errorf("%w: assertion outside its validity window", ErrFederation)
	}
	if info.WarningInfo.NotInAudience {
		return auth.Identity{}, fmt.Errorf("%w: assertion audience mismatch", ErrFederation)
	}

	email := firstAttribute(info, samlEmailAttributes)
	if email == "" {
		// Many IdPs put the address in the subject identifier instead.
		if strings.Contains(info.NameID, "@") {
			email = info.NameID
		}
	}
	if email == "" {
		return auth.Identity{}, fmt.Errorf("%w: assertion carried no email attribute", ErrFederation)
	}
	name := firstAttribute(info, samlNameAttributes)
	if name == "" {
		name = email
	}
	return auth.Identity{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		DisplayName:  name,
		ProviderType: string(TypeSAML),
	}, nil
}

func firstAttribute(info *saml2.AssertionInfo, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(info.Values.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func parseIDPCertificate(pemData string) (*x509.Certificate, error) {
	pemData = strings.TrimSpace(pemData)
	if pemData == "" {
		return nil, fmt.Errorf("%w: idp signing certificate is required", ErrNotConfigured)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: idp certificate is not valid PEM", ErrNotConfigured)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse idp certificate: %v", ErrNotConfigured, err)
	}
	return cert, nil
}
