package federation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func oauth2TestConfig(authorize, token, userinfo string) Config {
	return Config{
		TenantID:     "t1",
		TenantOrgID:  "acme",
		Type:         TypeOAuth2,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example.com/callback",
		AuthorizeURL: authorize,
		TokenURL:     token,
		UserinfoURL:  userinfo,
	}
}

func TestOAuth2ProviderRequiresConfig(t *testing.T) {
	_, err := newOAuth2Provider(Config{ClientID: "c", ClientSecret: "s", RedirectURL: "r"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing domain: expected ErrNotConfigured, got %v", err)
	}
	_, err = newOAuth2Provider(Config{Domain: "idp.example.com", RedirectURL: "r"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing credentials: expected ErrNotConfigured, got %v", err)
	}
}

func TestOAuth2InitiateCarriesState(t *testing.T) {
	p, err := newOAuth2Provider(oauth2TestConfig("https://idp.example.com/authorize", "https://idp.example.com/oauth/token", "https://idp.example.com/userinfo"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	redirect, err := p.Initiate(context.Background(), "state-123")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !strings.HasPrefix(redirect, "https://idp.example.com/authorize?") {
		t.Fatalf("unexpected authorize url: %s", redirect)
	}
	if !strings.Contains(redirect, "state=state-123") {
		t.Fatalf("state missing from url: %s", redirect)
	}
	if !strings.Contains(redirect, "client_id=client-1") {
		t.Fatalf("client id missing from url: %s", redirect)
	}

	if _, err := p.Initiate(context.Background(), ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("empty state: expected ErrInvalidState, got %v", err)
	}
}

func TestOAuth2CompleteCallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token endpoint got method %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("userinfo got authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"Jo@Example.com","name":"Jo Dev"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := newOAuth2Provider(oauth2TestConfig(srv.URL+"/authorize", srv.URL+"/oauth/token", srv.URL+"/userinfo"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	identity, err := p.CompleteCallback(context.Background(), CallbackParams{Code: "code-1"})
	if err != nil {
		t.Fatalf("complete callback: %v", err)
	}
	if identity.Email != "jo@example.com" {
		t.Fatalf("expected lowercased email, got %q", identity.Email)
	}
	if identity.DisplayName != "Jo Dev" || identity.ProviderType != "oauth2" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestOAuth2CompleteCallbackMissingEmail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"No Email"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := newOAuth2Provider(oauth2TestConfig(srv.URL+"/authorize", srv.URL+"/oauth/token", srv.URL+"/userinfo"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.CompleteCallback(context.Background(), CallbackParams{Code: "code-1"}); !errors.Is(err, ErrFederation) {
		t.Fatalf("expected ErrFederation, got %v", err)
	}
}

func TestOAuth2CompleteCallbackFailedExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := newOAuth2Provider(oauth2TestConfig(srv.URL+"/authorize", srv.URL+"/oauth/token", srv.URL+"/userinfo"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.CompleteCallback(context.Background(), CallbackParams{Code: "bad-code"}); !errors.Is(err, ErrFederation) {
		t.Fatalf("expected ErrFederation, got %v", err)
	}
	if _, err := p.CompleteCallback(context.Background(), CallbackParams{}); !errors.Is(err, ErrFederation) {
		t.Fatalf("missing code: expected ErrFederation, got %v", err)
	}
}
