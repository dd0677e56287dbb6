package federation

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// stateNonceBytes is the entropy carried alongside the tenant identifier so
// two handshakes for the same tenant never share a state value.
const stateNonceBytes = 16

// EncodeState binds the initiating tenant's org identifier into the opaque
// state value that rides the redirect round trip. The value only re-selects
// tenant configuration at callback time; it is never an authorization proof.
func EncodeState(tenantOrgID string) (string, error) {
	tenantOrgID = strings.TrimSpace(tenantOrgID)
	if tenantOrgID == "" {
		return "", fmt.Errorf("%w: tenant org id is required", ErrInvalidState)
	}
	if strings.Contains(tenantOrgID, ":") {
		return "", fmt.Errorf("%w: tenant org id must not contain ':'", ErrInvalidState)
	}
	nonce := make([]byte, stateNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	raw := tenantOrgID + ":" + hex.EncodeToString(nonce)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeState recovers the tenant org identifier from a state value.
// Malformed, truncated, or corrupted input fails closed; there is no default
// tenant.
func DecodeState(state string) (string, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return "", ErrInvalidState
	}
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	orgID, nonce, found := strings.Cut(string(raw), ":")
	if !found || orgID == "" {
		return "", ErrInvalidState
	}
	// A truncated value loses nonce bytes; hex keeps the length observable.
	if len(nonce) != stateNonceBytes*2 {
		return "", ErrInvalidState
	}
	if _, err := hex.DecodeString(nonce); err != nil {
		return "", ErrInvalidState
	}
	return orgID, nil
}
