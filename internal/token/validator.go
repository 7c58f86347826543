// Package token implements access-token verification, unverified expiry
// inspection, and the lock-guarded refresh protocol.
package token

import (
	"context"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/keys"
)

// customClaims are the gateway-relevant private claims.
type customClaims struct {
	Roles          []string `json:"roles"`
	TenantID       string   `json:"tenant_id"`
	OrgID          string   `json:"org_id"`
	PermissionHash string   `json:"permission_hash"`
	MFAVerified    bool     `json:"mfa_verified"`
}

// Validator verifies RS256 access tokens against the key resolver.
type Validator struct {
	resolver *keys.Resolver
	now      func() time.Time
}

// NewValidator builds a validator. A nil clock uses time.Now.
func NewValidator(resolver *keys.Resolver, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{resolver: resolver, now: now}
}

// Validate checks signature and expiry and returns the decoded claims.
// Expiry is compared with zero grace; a token checked exactly at its expiry
// instant is valid. An expired but otherwise valid token returns the claims
// together with domain.ErrTokenExpired so refresh can reuse them.
func (v *Validator) Validate(ctx context.Context, token domain.AccessToken) (domain.Claims, error) {
	parsed, err := gojwt.ParseSigned(token.Raw(), []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}

	publicKey, err := v.resolver.Resolve(ctx, token.Kid())
	if err != nil {
		return domain.Claims{}, err
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(publicKey, &std, &custom); err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	var expiresAt, issuedAt time.Time
	if std.Expiry != nil {
		expiresAt = std.Expiry.Time()
	}
	if std.IssuedAt != nil {
		issuedAt = std.IssuedAt.Time()
	}

	claims := domain.NewClaims(
		std.Subject,
		std.Issuer,
		expiresAt,
		issuedAt,
		custom.Roles,
		custom.TenantID,
		custom.OrgID,
		custom.PermissionHash,
		custom.MFAVerified,
	)

	if claims.IsExpired(v.now()) {
		return claims, domain.ErrTokenExpired
	}
	return claims, nil
}
