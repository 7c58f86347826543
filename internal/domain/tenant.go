package domain

import "time"

// SessionPolicy controls token lifetimes for one tenant.
type SessionPolicy struct {
	AccessTokenTTL  time.Duration `json:"accessTokenTtl"`
	RefreshTokenTTL time.Duration `json:"refreshTokenTtl"`
	MaxSessions     int           `json:"maxSessions"`
}

// RateLimitPolicy overrides the gateway defaults for one tenant. Zero values
// mean "use the gateway default".
type RateLimitPolicy struct {
	RequestsPerWindow int           `json:"requestsPerWindow"`
	Window            time.Duration `json:"window"`
}

// TenantConfig is the per-tenant policy snapshot published by AuthHub.
type TenantConfig struct {
	TenantID         string              `json:"tenantId"`
	MFARequired      bool                `json:"mfaRequired"`
	AllowedProviders []string            `json:"allowedProviders"`
	RoleHierarchy    map[string][]string `json:"roleHierarchy"`
	SessionPolicy    SessionPolicy       `json:"sessionPolicy"`
	RateLimitPolicy  RateLimitPolicy     `json:"rateLimitPolicy"`
}
