package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown user and wrong password so the
	// caller cannot distinguish them (user enumeration).
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInactiveAccount    = errors.New("auth: account is not active")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTenantMismatch     = errors.New("auth: tenant mismatch")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
)
