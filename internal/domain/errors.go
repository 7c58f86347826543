package domain

import "errors"

// Sentinel errors for security-pipeline outcomes. Middleware maps these to
// HTTP statuses and error codes; nothing below the transport layer writes
// responses directly.
var (
	ErrMalformedToken      = errors.New("malformed access token")
	ErrInvalidToken        = errors.New("invalid access token")
	ErrTokenExpired        = errors.New("access token expired")
	ErrUnknownKey          = errors.New("unknown signing key")
	ErrInvalidKey          = errors.New("invalid public key")
	ErrInvalidPermission   = errors.New("invalid permission")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenReused  = errors.New("refresh token reused")
	ErrNoPermissionSpec    = errors.New("no permission spec found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrTenantNotFound      = errors.New("tenant not found")
)

// Machine-readable error codes carried in the response envelope.
const (
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeUnknownKey             = "UNKNOWN_KEY"
	CodeRefreshTokenReused     = "REFRESH_TOKEN_REUSED"
	CodeRefreshFailed          = "REFRESH_FAILED"
	CodePermissionDenied       = "PERMISSION_DENIED"
	CodePermissionSpecNotFound = "PERMISSION_SPEC_NOT_FOUND"
	CodeRateLimited            = "RATE_LIMITED"
	CodeIPBlocked              = "IP_BLOCKED"
	CodeAccountLocked          = "ACCOUNT_LOCKED"
	CodeMFARequired            = "MFA_REQUIRED"
	CodeTenantNotFound         = "TENANT_NOT_FOUND"
	CodeUpstreamUnavailable    = "UPSTREAM_UNAVAILABLE"
	CodeInternalError          = "INTERNAL_ERROR"
)
