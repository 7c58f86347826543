package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-gateway/internal/authhub"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeHub is an in-memory authhub.Client shared by the middleware tests.
type fakeHub struct {
	keys    []domain.PublicKey
	spec    domain.PermissionSpec
	hashes  map[string]domain.PermissionHash
	tenants map[string]domain.TenantConfig

	refreshResult authhub.RefreshResult
	refreshErr    error
	refreshCalls  int
}

var _ authhub.Client = (*fakeHub)(nil)

func (f *fakeHub) FetchKeySet(context.Context) ([]domain.PublicKey, error) {
	return f.keys, nil
}

func (f *fakeHub) FetchPermissionSpec(context.Context) (domain.PermissionSpec, error) {
	return f.spec, nil
}

func (f *fakeHub) FetchPermissionHash(_ context.Context, tenantID, userID string) (domain.PermissionHash, error) {
	return f.hashes[tenantID+":"+userID], nil
}

func (f *fakeHub) FetchTenantConfig(_ context.Context, tenantID string) (domain.TenantConfig, error) {
	cfg, ok := f.tenants[tenantID]
	if !ok {
		return domain.TenantConfig{}, domain.ErrTenantNotFound
	}
	return cfg, nil
}

func (f *fakeHub) RefreshTokens(context.Context, string, string, domain.RefreshToken) (authhub.RefreshResult, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return authhub.RefreshResult{}, f.refreshErr
	}
	return f.refreshResult, nil
}

func newStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.New(client), mr
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

type tokenSpec struct {
	subject     string
	tenantID    string
	roles       []string
	mfaVerified bool
	expiry      time.Time
}

func mintToken(t *testing.T, key *rsa.PrivateKey, kid string, spec tokenSpec) string {
	t.Helper()
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: key},
		(&gojose.SignerOptions{}).WithHeader("kid", kid),
	)
	require.NoError(t, err)

	std := gojwt.Claims{Subject: spec.subject, Expiry: gojwt.NewNumericDate(spec.expiry)}
	custom := map[string]any{
		"tenant_id":    spec.tenantID,
		"roles":        spec.roles,
		"mfa_verified": spec.mfaVerified,
	}
	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	require.NoError(t, err)
	return raw
}

// perform runs one request through a one-route engine built from stages.
func perform(t *testing.T, req *http.Request, stages ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	handlers := append([]gin.HandlerFunc{}, stages...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, "passed")
	})
	r.NoRoute(handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			ErrorCode string `json:"errorCode"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.ErrorCode
}
