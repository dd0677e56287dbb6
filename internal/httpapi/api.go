package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"authgrid.dev/internal/audit"
	"authgrid.dev/internal/auth"
	"authgrid.dev/internal/federation"
	"authgrid.dev/internal/obs"
	"authgrid.dev/internal/rbac"
)

// TenantConfigSource resolves a tenant's federation configuration by its
// public org identifier. Owned by the tenant-configuration collaborator; this
// API only reads it.
type TenantConfigSource interface {
	FederationConfig(ctx context.Context, tenantOrgID string, t federation.Type) (federation.Config, error)
}

// ReadyProbe reports readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Auth          *auth.Service
	RBAC          *rbac.Engine
	Federation    *federation.Registry
	TenantConfigs TenantConfigSource
	ReadyProbe    ReadyProbe
	Version       string

	// Browser destinations after a federated callback. SSOErrorURL empty
	// means callback errors answer with JSON instead of a redirect.
	SSOSuccessURL string
	SSOErrorURL   string
}

// API is the HTTP layer.
type API struct {
	mux           *http.ServeMux
	auth          *auth.Service
	rbac          *rbac.Engine
	federation    *federation.Registry
	tenantConfigs TenantConfigSource
	readyProbe    ReadyProbe
	version       string
	ssoSuccessURL string
	ssoErrorURL   string
}

func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		auth:          cfg.Auth,
		rbac:          cfg.RBAC,
		federation:    cfg.Federation,
		tenantConfigs: cfg.TenantConfigs,
		readyProbe:    cfg.ReadyProbe,
		version:       cfg.Version,
		ssoSuccessURL: cfg.SSOSuccessURL,
		ssoErrorURL:   cfg.SSOErrorURL,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// tenant auth
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/password-reset/request", a.handlePasswordResetRequest)
	a.mux.HandleFunc("/v1/auth/password-reset/confirm", a.handlePasswordResetConfirm)
	a.mux.HandleFunc("/v1/auth/sso/", a.handleSSO)

	// platform admin surface
	a.mux.HandleFunc("/v1/admin/auth/login", a.handleAdminLogin)
	a.mux.HandleFunc("/v1/admin/auth/refresh", a.handleAdminRefresh)
	a.mux.HandleFunc("/v1/admin/tenants/", a.handleAdminTenantScoped)

	// permission resolution and role management
	a.mux.HandleFunc("/v1/rbac/check", a.handlePermissionCheck)
	a.mux.HandleFunc("/v1/rbac/templates", a.handleTemplates)
	a.mux.HandleFunc("/v1/rbac/business-types", a.handleBusinessTypes)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler: metrics around the
// gatekeeper around the mux.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgrid-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authgrid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
