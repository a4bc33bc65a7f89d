// Package common defines shared constants and sentinel errors used across
// client and server layers of the DalSi portal. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Transport-level errors. ErrUnavailable is the "network blip" class:
	// it must never cause stored credentials to be discarded.
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")

	// Auth lifecycle errors.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrServerError        = errors.New("malformed server response")

	// ErrRateLimited marks a remote 429. The UI surfaces it; it is never
	// retried automatically.
	ErrRateLimited = errors.New("rate limited by server")

	// Token errors (server-side parse/verify).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
