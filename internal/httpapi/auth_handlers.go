package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authgrid.dev/internal/audit"
	"authgrid.dev/internal/auth"
	"authgrid.dev/internal/federation"
	"authgrid.dev/internal/obs"
)

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      *auth.TenantUser `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.Login(r.Context(), req.TenantID, req.Email, req.Password)
	if err != nil {
		obs.ObserveLogin("local", "failure")
		_ = audit.LogEvent(r.Context(), "auth.login.failure", map[string]any{
			"tenant_id": req.TenantID,
			"email":     req.Email,
			"reason":    err.Error(),
		})
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveLogin("local", "success")
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{
		"tenant_id": result.User.TenantID,
		"user_id":   result.User.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	})
}

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, expiresAt, err := a.auth.Tokens().Refresh(r.Context(), req.Token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Token: token, ExpiresAt: expiresAt})
}

type passwordResetRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
}

// handlePasswordResetRequest answers 202 with the same body whether or not
// the account exists; only the audit log records the real outcome. The reset
// token leaves the process through the delivery channel, never this response.
func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_, _, err := a.auth.RequestPasswordReset(r.Context(), req.TenantID, req.Email)
	outcome := "issued"
	if err != nil {
		outcome = "refused"
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.request", map[string]any{
		"tenant_id": req.TenantID,
		"email":     req.Email,
		"outcome":   outcome,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

type passwordResetConfirm struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetConfirm
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.confirm", nil)
	w.WriteHeader(http.StatusNoContent)
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token            string              `json:"token"`
	ExpiresAt        time.Time           `json:"expires_at"`
	RefreshToken     string              `json:"refresh_token"`
	RefreshExpiresAt time.Time           `json:"refresh_expires_at"`
	Admin            *auth.PlatformAdmin `json:"admin"`
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.AdminLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.ObserveLogin("platform_admin", "failure")
		_ = audit.LogEvent(r.Context(), "auth.admin.login.failure", map[string]any{
			"email":  req.Email,
			"reason": err.Error(),
		})
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveLogin("platform_admin", "success")
	_ = audit.LogEvent(r.Context(), "auth.admin.login.success", map[string]any{
		"admin_id": result.Admin.ID,
	})
	writeJSON(w, http.StatusOK, adminLoginResponse{
		Token:            result.Token,
		ExpiresAt:        result.ExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
		Admin:            result.Admin,
	})
}

type adminRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req adminRefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, expiresAt, err := a.auth.AdminRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Token: token, ExpiresAt: expiresAt})
}

// --- federated SSO ---

// handleSSO dispatches /v1/auth/sso/{provider}/{initiate|callback}.
func (a *API) handleSSO(w http.ResponseWriter, r *http.Request) {
	if a.federation == nil || a.tenantConfigs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "federation unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/auth/sso/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	providerType := federation.Type(parts[0])
	switch parts[1] {
	case "initiate":
		a.handleSSOInitiate(w, r, providerType)
	case "callback":
		a.handleSSOCallback(w, r, providerType)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleSSOInitiate(w http.ResponseWriter, r *http.Request, t federation.Type) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID := strings.TrimSpace(r.URL.Query().Get("org"))
	if orgID == "" {
		writeError(w, r, http.StatusBadRequest, "org query parameter is required")
		return
	}
	cfg, err := a.tenantConfigs.FederationConfig(r.Context(), orgID, t)
	if err != nil {
		handleFederationError(w, r, err)
		return
	}
	provider, err := a.federation.Build(cfg)
	if err != nil {
		handleFederationError(w, r, err)
		return
	}
	state, err := federation.EncodeState(orgID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid org identifier")
		return
	}
	redirectURL, err := provider.Initiate(r.Context(), state)
	if err != nil {
		handleFederationError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.sso.initiate", map[string]any{
		"org_id":   orgID,
		"provider": string(t),
	})
	writeJSON(w, http.StatusOK, map[string]any{"redirect_url": redirectURL})
}

// handleSSOCallback completes the round trip. The tenant is recovered from the
// signed-over state; the config lookup keyed by that org is what stops a
// forged state from landing in another tenant.
func (a *API) handleSSOCallback(w http.ResponseWriter, r *http.Request, t federation.Type) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	params := callbackParams(r)
	orgID, err := federation.DecodeState(params.State)
	if err != nil {
		a.ssoFailure(w, r, t, "invalid_state", err)
		return
	}
	cfg, err := a.tenantConfigs.FederationConfig(r.Context(), orgID, t)
	if err != nil {
		a.ssoFailure(w, r, t, "not_configured", err)
		return
	}
	provider, err := a.federation.Build(cfg)
	if err != nil {
		a.ssoFailure(w, r, t, "not_configured", err)
		return
	}
	identity, err := provider.CompleteCallback(r.Context(), params)
	if err != nil {
		a.ssoFailure(w, r, t, "federation_failed", err)
		return
	}
	result, err := a.auth.FederatedLogin(r.Context(), identity, cfg.TenantID)
	if err != nil {
		a.ssoFailure(w, r, t, "login_refused", err)
		return
	}
	obs.ObserveLogin(string(t), "success")
	_ = audit.LogEvent(r.Context(), "auth.sso.callback.success", map[string]any{
		"tenant_id": result.User.TenantID,
		"user_id":   result.User.ID,
		"provider":  string(t),
	})
	if a.ssoSuccessURL != "" {
		http.Redirect(w, r, appendQuery(a.ssoSuccessURL, url.Values{"token": {result.Token}}), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	})
}

// ssoFailure reports a callback failure. The redirect carries only a coarse
// error code; the specific reason stays in the audit log.
func (a *API) ssoFailure(w http.ResponseWriter, r *http.Request, t federation.Type, code string, err error) {
	obs.ObserveLogin(string(t), "failure")
	_ = audit.LogEvent(r.Context(), "auth.sso.callback.failure", map[string]any{
		"provider": string(t),
		"code":     code,
		"reason":   err.Error(),
	})
	if a.ssoErrorURL != "" {
		http.Redirect(w, r, appendQuery(a.ssoErrorURL, url.Values{"error": {code}}), http.StatusFound)
		return
	}
	switch code {
	case "invalid_state":
		writeError(w, r, http.StatusBadRequest, "invalid state")
	case "not_configured":
		writeError(w, r, http.StatusNotFound, "provider not configured")
	default:
		writeError(w, r, http.StatusUnauthorized, "federated login failed")
	}
}

func callbackParams(r *http.Request) federation.CallbackParams {
	// SAML posts form-encoded; OAuth2/OIDC redirect with query parameters.
	_ = r.ParseForm()
	get := func(key string) string {
		if v := r.PostFormValue(key); v != "" {
			return v
		}
		return r.URL.Query().Get(key)
	}
	return federation.CallbackParams{
		Code:         get("code"),
		SAMLResponse: get("SAMLResponse"),
		State:        firstNonEmpty(get("state"), get("RelayState")),
		Email:        get("email"),
		Password:     get("password"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func appendQuery(base string, values url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + values.Encode()
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Inactive accounts answer exactly like bad credentials so the response
	// cannot be used to probe account state.
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveAccount):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		obs.LogError("auth operation failed", err, map[string]any{"path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "authentication failed")
	}
}

func handleFederationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, federation.ErrNotConfigured):
		writeError(w, r, http.StatusNotFound, "provider not configured")
	case errors.Is(err, federation.ErrInvalidState):
		writeError(w, r, http.StatusBadRequest, "invalid state")
	case errors.Is(err, federation.ErrFederation):
		writeError(w, r, http.StatusBadGateway, "identity provider error")
	default:
		obs.LogError("federation operation failed", err, map[string]any{"path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "federation failed")
	}
}
