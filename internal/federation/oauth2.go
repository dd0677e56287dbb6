package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"authgrid.dev/internal/auth"
)

// oauth2Provider federates against a generic OAuth2 identity platform:
// authorization-code exchange followed by a userinfo call. The userinfo
// response must carry an email claim.
type oauth2Provider struct {
	cfg      Config
	oauth    *oauth2.Config
	userinfo string
}

func newOAuth2Provider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.Domain) == "" && cfg.AuthorizeURL == "" {
		return nil, fmt.Errorf("%w: provider domain is required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client credentials are required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: redirect url is required", ErrNotConfigured)
	}
	authorizeURL := cfg.AuthorizeURL
	tokenURL := cfg.TokenURL
	userinfoURL := cfg.UserinfoURL
	if authorizeURL == "" {
		base := "https://" + cfg.Domain
		authorizeURL = base + "/authorize"
		tokenURL = base + "/oauth/token"
		userinfoURL = base + "/userinfo"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	return &oauth2Provider{
		cfg:      cfg,
		userinfo: userinfoURL,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeURL,
				TokenURL: tokenURL,
			},
		},
	}, nil
}

func (p *oauth2Provider) Type() Type { return TypeOAuth2 }

func (p *oauth2Provider) Initiate(_ context.Context, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", ErrInvalidState
	}
	return p.oauth.AuthCodeURL(state), nil
}

func (p *oauth2Provider) CompleteCallback(ctx context.Context, params CallbackParams) (auth.Identity, error) {
	if strings.TrimSpace(params.Code) == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing authorization code", ErrFederation)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, outboundClient())
	tok, err := p.oauth.Exchange(ctx, params.Code)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: code exchange failed: %v", ErrFederation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfo, nil)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrFederation, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := outboundClient().Do(req)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: userinfo request failed: %v", ErrFederation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Identity{}, fmt.Errorf("%w: userinfo returned status %d", ErrFederation, resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: malformed userinfo response: %v", ErrFederation, err)
	}
	email := strings.TrimSpace(info.Email)
	if email == "" {
		return auth.Identity{}, fmt.Errorf("%w: userinfo response carried no email", ErrFederation)
	}
	name := strings.TrimSpace(info.Name)
	if name == "" {
		name = email
	}
	return auth.Identity{
		Email:        strings.ToLower(email),
		DisplayName:  name,
		ProviderType: string(TypeOAuth2),
	}, nil
}
