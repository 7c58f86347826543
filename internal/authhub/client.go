// Package authhub is the gateway-side client for the identity provider. The
// gateway only reads: key sets, the global permission spec, per-user
// permission hashes, and tenant configuration. Token refresh is the one
// mutating call and AuthHub remains the system of record for it.
package authhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/valora-gateway/internal/domain"
)

// Client encapsulates outbound HTTP calls to AuthHub.
type Client interface {
	FetchKeySet(ctx context.Context) ([]domain.PublicKey, error)
	FetchPermissionSpec(ctx context.Context) (domain.PermissionSpec, error)
	FetchPermissionHash(ctx context.Context, tenantID, userID string) (domain.PermissionHash, error)
	FetchTenantConfig(ctx context.Context, tenantID string) (domain.TenantConfig, error)
	RefreshTokens(ctx context.Context, tenantID, userID string, refreshToken domain.RefreshToken) (RefreshResult, error)
}

// RefreshResult is the minted pair plus the remaining validity AuthHub
// reports for the consumed refresh token, used to size the blacklist TTL.
type RefreshResult struct {
	Pair             domain.TokenPair
	ConsumedTokenTTL time.Duration
}

// HTTPClient is the default implementation.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs a client against the AuthHub base URL.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

var _ Client = (*HTTPClient)(nil)

type jwksResponse struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		Alg string `json:"alg"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// FetchKeySet loads the JSON Web Key Set. Keys that fail validation are
// skipped rather than failing the whole set.
func (c *HTTPClient) FetchKeySet(ctx context.Context) ([]domain.PublicKey, error) {
	var resp jwksResponse
	if err := c.getJSON(ctx, "/.well-known/jwks.json", &resp); err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}

	keys := make([]domain.PublicKey, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		key, err := domain.NewPublicKey(k.Kid, k.Kty, k.Alg, k.Use, k.N, k.E)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// FetchPermissionSpec loads the global endpoint permission snapshot.
func (c *HTTPClient) FetchPermissionSpec(ctx context.Context) (domain.PermissionSpec, error) {
	var spec domain.PermissionSpec
	if err := c.getJSON(ctx, "/internal/permissions/spec", &spec); err != nil {
		return domain.PermissionSpec{}, fmt.Errorf("fetch permission spec: %w", err)
	}
	return spec, nil
}

// FetchPermissionHash loads the materialized permission set for one user.
func (c *HTTPClient) FetchPermissionHash(ctx context.Context, tenantID, userID string) (domain.PermissionHash, error) {
	path := fmt.Sprintf("/internal/permissions/tenants/%s/users/%s/hash", url.PathEscape(tenantID), url.PathEscape(userID))
	var hash domain.PermissionHash
	if err := c.getJSON(ctx, path, &hash); err != nil {
		return domain.PermissionHash{}, fmt.Errorf("fetch permission hash: %w", err)
	}
	return hash, nil
}

// FetchTenantConfig loads the tenant policy snapshot.
func (c *HTTPClient) FetchTenantConfig(ctx context.Context, tenantID string) (domain.TenantConfig, error) {
	var cfg tenantConfigResponse
	if err := c.getJSON(ctx, "/internal/tenants/"+url.PathEscape(tenantID), &cfg); err != nil {
		return domain.TenantConfig{}, fmt.Errorf("fetch tenant config: %w", err)
	}
	return cfg.toDomain(), nil
}

type tenantConfigResponse struct {
	TenantID          string              `json:"tenantId"`
	MFARequired       bool                `json:"mfaRequired"`
	AllowedProviders  []string            `json:"allowedProviders"`
	RoleHierarchy     map[string][]string `json:"roleHierarchy"`
	AccessTokenTTLSec int64               `json:"accessTokenTtlSeconds"`
	RefreshTokenTTLSc int64               `json:"refreshTokenTtlSeconds"`
	MaxSessions       int                 `json:"maxSessions"`
	RateLimitRequests int                 `json:"rateLimitRequests"`
	RateLimitWindowSc int64               `json:"rateLimitWindowSeconds"`
}

func (r tenantConfigResponse) toDomain() domain.TenantConfig {
	return domain.TenantConfig{
		TenantID:         r.TenantID,
		MFARequired:      r.MFARequired,
		AllowedProviders: r.AllowedProviders,
		RoleHierarchy:    r.RoleHierarchy,
		SessionPolicy: domain.SessionPolicy{
			AccessTokenTTL:  time.Duration(r.AccessTokenTTLSec) * time.Second,
			RefreshTokenTTL: time.Duration(r.RefreshTokenTTLSc) * time.Second,
			MaxSessions:     r.MaxSessions,
		},
		RateLimitPolicy: domain.RateLimitPolicy{
			RequestsPerWindow: r.RateLimitRequests,
			Window:            time.Duration(r.RateLimitWindowSc) * time.Second,
		},
	}
}

type refreshRequest struct {
	TenantID     string `json:"tenantId"`
	UserID       string `json:"userId"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	ConsumedTTLSecs int64  `json:"consumedTokenTtlSeconds"`
}

// RefreshTokens exchanges the refresh token for a new pair.
func (c *HTTPClient) RefreshTokens(ctx context.Context, tenantID, userID string, refreshToken domain.RefreshToken) (RefreshResult, error) {
	payload, err := json.Marshal(refreshRequest{TenantID: tenantID, UserID: userID, RefreshToken: refreshToken.Value()})
	if err != nil {
		return RefreshResult{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/tokens/refresh", strings.NewReader(string(payload)))
	if err != nil {
		return RefreshResult{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RefreshResult{}, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return RefreshResult{}, fmt.Errorf("%w: authhub rejected refresh (status=%d)", domain.ErrInvalidRefreshToken, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return RefreshResult{}, fmt.Errorf("refresh failed: status=%d", resp.StatusCode)
	}

	var decoded refreshResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return RefreshResult{}, fmt.Errorf("decode refresh response: %w", err)
	}

	pair, err := domain.NewTokenPair(decoded.AccessToken, decoded.RefreshToken)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh response: %w", err)
	}

	return RefreshResult{
		Pair:             pair,
		ConsumedTokenTTL: time.Duration(decoded.ConsumedTTLSecs) * time.Second,
	}, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrTenantNotFound, path)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed: status=%d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
