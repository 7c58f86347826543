package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AccessToken wraps a compact three-part signed token. Construction fails on
// structural problems so a malformed token never reaches signature
// verification.
type AccessToken struct {
	raw string
	kid string
}

// ParseAccessToken validates the compact serialization and extracts the kid
// from the unsigned header.
func ParseAccessToken(raw string) (AccessToken, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return AccessToken{}, fmt.Errorf("%w: expected three segments, got %d", ErrMalformedToken, len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: decode header: %v", ErrMalformedToken, err)
	}

	var header struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return AccessToken{}, fmt.Errorf("%w: parse header: %v", ErrMalformedToken, err)
	}
	if strings.TrimSpace(header.Kid) == "" {
		return AccessToken{}, fmt.Errorf("%w: missing kid", ErrMalformedToken)
	}

	return AccessToken{raw: raw, kid: header.Kid}, nil
}

// Raw returns the compact serialization.
func (t AccessToken) Raw() string { return t.raw }

// Kid returns the key id from the token header.
func (t AccessToken) Kid() string { return t.kid }

// Claims is the decoded, verified JWT payload.
type Claims struct {
	Subject           string
	Issuer            string
	ExpiresAt         time.Time
	IssuedAt          time.Time
	TenantID          string
	OrgID             string
	PermissionHashRef string
	MFAVerified       bool

	roles []string
}

// NewClaims builds a claims value; the roles slice is defensively copied.
func NewClaims(subject, issuer string, expiresAt, issuedAt time.Time, roles []string, tenantID, orgID, permissionHashRef string, mfaVerified bool) Claims {
	copied := make([]string, len(roles))
	copy(copied, roles)
	return Claims{
		Subject:           subject,
		Issuer:            issuer,
		ExpiresAt:         expiresAt,
		IssuedAt:          issuedAt,
		TenantID:          tenantID,
		OrgID:             orgID,
		PermissionHashRef: permissionHashRef,
		MFAVerified:       mfaVerified,
		roles:             copied,
	}
}

// Roles returns a copy of the role list.
func (c Claims) Roles() []string {
	out := make([]string, len(c.roles))
	copy(out, c.roles)
	return out
}

// IsExpired reports whether the expiry lies strictly before now. A token
// inspected exactly at its expiry instant is still valid.
func (c Claims) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// minRefreshTokenLength guards against truncated or obviously bogus values.
const minRefreshTokenLength = 32

// RefreshToken is an opaque rotation credential. Its String form is masked so
// the raw value never lands in a log line by accident.
type RefreshToken struct {
	value string
}

// NewRefreshToken validates the opaque token value.
func NewRefreshToken(value string) (RefreshToken, error) {
	if len(value) < minRefreshTokenLength {
		return RefreshToken{}, fmt.Errorf("%w: shorter than %d characters", ErrInvalidRefreshToken, minRefreshTokenLength)
	}
	return RefreshToken{value: value}, nil
}

// Value returns the raw token for transport to the identity provider.
func (t RefreshToken) Value() string { return t.value }

// Mask returns a redacted form safe for logging.
func (t RefreshToken) Mask() string {
	if len(t.value) < 8 {
		return "****"
	}
	return t.value[:4] + "****" + t.value[len(t.value)-4:]
}

func (t RefreshToken) String() string { return t.Mask() }

// TokenPair is a freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// NewTokenPair requires both members.
func NewTokenPair(accessToken, refreshToken string) (TokenPair, error) {
	if accessToken == "" || refreshToken == "" {
		return TokenPair{}, fmt.Errorf("token pair requires both access and refresh tokens")
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// ExpiredTokenInfo is the result of inspecting an access token without
// verifying it. Empty UserID or TenantID means the identity could not be
// determined and refresh must not be attempted.
type ExpiredTokenInfo struct {
	Expired  bool
	UserID   string
	TenantID string
}

// CanRefresh reports whether a silent refresh may be attempted.
func (i ExpiredTokenInfo) CanRefresh() bool {
	return i.Expired && i.UserID != "" && i.TenantID != ""
}
