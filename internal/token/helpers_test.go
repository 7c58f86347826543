package token_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-gateway/internal/authhub"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/store"
)

// fakeAuthHub is an in-memory authhub.Client for tests. The mutex keeps the
// call counter safe for tests that refresh from several goroutines.
type fakeAuthHub struct {
	keys []domain.PublicKey

	mu            sync.Mutex
	refreshResult authhub.RefreshResult
	refreshErr    error
	refreshCalls  int
}

var _ authhub.Client = (*fakeAuthHub)(nil)

func (f *fakeAuthHub) FetchKeySet(context.Context) ([]domain.PublicKey, error) {
	return f.keys, nil
}

func (f *fakeAuthHub) FetchPermissionSpec(context.Context) (domain.PermissionSpec, error) {
	return domain.PermissionSpec{}, nil
}

func (f *fakeAuthHub) FetchPermissionHash(context.Context, string, string) (domain.PermissionHash, error) {
	return domain.PermissionHash{}, nil
}

func (f *fakeAuthHub) FetchTenantConfig(context.Context, string) (domain.TenantConfig, error) {
	return domain.TenantConfig{}, nil
}

func (f *fakeAuthHub) RefreshTokens(context.Context, string, string, domain.RefreshToken) (authhub.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return authhub.RefreshResult{}, f.refreshErr
	}
	return f.refreshResult, nil
}

func (f *fakeAuthHub) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func newTestStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.New(client), mr
}

type privateClaims struct {
	Roles          []string `json:"roles,omitempty"`
	TenantID       string   `json:"tenant_id,omitempty"`
	OrgID          string   `json:"org_id,omitempty"`
	PermissionHash string   `json:"permission_hash,omitempty"`
	MFAVerified    bool     `json:"mfa_verified,omitempty"`
}

// mintToken signs a compact RS256 token with kid in the header.
func mintToken(t *testing.T, key *rsa.PrivateKey, kid string, std gojwt.Claims, custom privateClaims) string {
	t.Helper()
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: key},
		(&gojose.SignerOptions{}).WithHeader("kid", kid),
	)
	require.NoError(t, err)

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	require.NoError(t, err)
	return raw
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}
