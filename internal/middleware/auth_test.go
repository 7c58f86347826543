package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/config"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/keys"
	"github.com/smallbiznis/valora-gateway/internal/ratelimit"
	"github.com/smallbiznis/valora-gateway/internal/token"
)

type authFixture struct {
	auth     *Auth
	hub      *fakeHub
	registry *ratelimit.Registry
	mr       *miniredis.Miniredis
}

var authTestNow = time.Unix(1_700_000_000, 0)

func newAuthFixture(t *testing.T, hub *fakeHub) *authFixture {
	t.Helper()
	s, mr := newStore(t)
	registry := ratelimit.NewRegistry(s, zap.NewNop())
	recorder := ratelimit.NewFailureRecorder(s, registry, ratelimit.RecorderConfig{
		FailureWindow:    time.Minute,
		IPThreshold:      1,
		AccountThreshold: 1,
		BlockTTL:         time.Minute,
		LockTTL:          time.Minute,
	}, zap.NewNop())

	resolver := keys.NewResolver(s, hub, time.Hour, zap.NewNop())
	validator := token.NewValidator(resolver, func() time.Time { return authTestNow })
	coordinator := token.NewCoordinator(s, hub, token.CoordinatorConfig{}, zap.NewNop())

	public := NewPublicPaths(config.RouteTable{GlobalPublicPaths: []string{"/public/**"}})

	return &authFixture{
		auth: &Auth{
			Validator:   validator,
			Coordinator: coordinator,
			Recorder:    recorder,
			Public:      public,
			CookieName:  "refresh_token",
			Logger:      zap.NewNop(),
			Now:         func() time.Time { return authTestNow },
		},
		hub:      hub,
		registry: registry,
		mr:       mr,
	}
}

const testRefreshCookie = "0123456789abcdef0123456789abcdef"

func TestAuthPublicPathBypasses(t *testing.T) {
	key := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	var bypassed bool
	r := gin.New()
	r.NoRoute(fx.auth.Handler(), func(c *gin.Context) {
		bypassed = isPublicBypass(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/public/docs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, bypassed)
}

func TestAuthMissingOrMalformedHeader(t *testing.T) {
	key := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	w := perform(t, httptest.NewRequest("GET", "/x", nil), fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeInvalidToken, decodeError(t, w))

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w = perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeInvalidToken, decodeError(t, w))
}

func TestAuthGarbageTokenRecordsFailure(t *testing.T) {
	key := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.9.9.9:1234"
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The fixture escalates after a single failure.
	blocked, _ := fx.registry.IPBlocked(context.Background(), "10.9.9.9")
	require.True(t, blocked)
}

func TestAuthValidTokenSetsClaims(t *testing.T) {
	key := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	raw := mintToken(t, key, "key-1", tokenSpec{
		subject:  "u1",
		tenantID: "t1",
		roles:    []string{"admin"},
		expiry:   authTestNow.Add(time.Hour),
	})

	var gotUser, gotTenant string
	r := gin.New()
	r.NoRoute(fx.auth.Handler(), func(c *gin.Context) {
		gotUser = GetUserID(c)
		gotTenant = GetTenantID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", gotUser)
	require.Equal(t, "t1", gotTenant)
}

func TestAuthUnknownKid(t *testing.T) {
	key := generateKey(t)
	otherKey := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	raw := mintToken(t, otherKey, "key-rogue", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(time.Hour)})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeUnknownKey, decodeError(t, w))
}

func TestAuthExpiredWithoutCookieRejected(t *testing.T) {
	key := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	raw := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(-time.Minute)})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeTokenExpired, decodeError(t, w))
	require.Zero(t, fx.hub.refreshCalls, "no cookie means no refresh attempt")
}

func TestAuthSilentRefresh(t *testing.T) {
	key := generateKey(t)
	hub := &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}}
	fx := newAuthFixture(t, hub)

	expired := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(-time.Minute)})
	rotatedAccess := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", mfaVerified: true, expiry: authTestNow.Add(time.Hour)})
	pair, err := domain.NewTokenPair(rotatedAccess, "rotated-refresh-token-0123456789abcdef")
	require.NoError(t, err)
	hub.refreshResult.Pair = pair
	hub.refreshResult.ConsumedTokenTTL = time.Hour

	var gotUser string
	var forwardedAuth string
	r := gin.New()
	r.NoRoute(fx.auth.Handler(), func(c *gin.Context) {
		gotUser = GetUserID(c)
		forwardedAuth = c.Request.Header.Get("Authorization")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: testRefreshCookie})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, hub.refreshCalls)
	require.Equal(t, "u1", gotUser)
	require.Equal(t, "Bearer "+rotatedAccess, forwardedAuth, "the upstream sees the rotated token")
	require.Equal(t, rotatedAccess, w.Header().Get("X-Access-Token"))

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	var refreshed bool
	for _, cookie := range cookies {
		if cookie.Name == "refresh_token" {
			require.Equal(t, pair.RefreshToken, cookie.Value)
			require.True(t, cookie.HttpOnly)
			refreshed = true
		}
	}
	require.True(t, refreshed, "the rotated refresh token is handed back")
}

func TestAuthRefreshReuseRejected(t *testing.T) {
	key := generateKey(t)
	hub := &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}}
	fx := newAuthFixture(t, hub)

	expired := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(-time.Minute)})
	rotatedAccess := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(time.Hour)})
	pair, err := domain.NewTokenPair(rotatedAccess, "rotated-refresh-token-0123456789abcdef")
	require.NoError(t, err)
	hub.refreshResult.Pair = pair
	hub.refreshResult.ConsumedTokenTTL = time.Hour

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: testRefreshCookie})
		return perform(t, req, fx.auth.Handler())
	}

	require.Equal(t, http.StatusOK, send().Code)

	// Past the result window the consumed token hits the blacklist.
	fx.mr.FastForward(11 * time.Second)

	w := send()
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeRefreshTokenReused, decodeError(t, w))
	require.Equal(t, 1, hub.refreshCalls)

	// Reuse is a security event: it counts against the account, and the
	// fixture escalates after a single failure.
	locked, _ := fx.registry.AccountLocked(context.Background(), "t1", "u1")
	require.True(t, locked)
}

func TestAuthRefreshRejectionLocksAccount(t *testing.T) {
	key := generateKey(t)
	hub := &fakeHub{
		keys:       []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)},
		refreshErr: domain.ErrInvalidRefreshToken,
	}
	fx := newAuthFixture(t, hub)

	expired := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(-time.Minute)})

	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.3.3.3:4321"
	req.Header.Set("Authorization", "Bearer "+expired)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: testRefreshCookie})
	w := perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeRefreshFailed, decodeError(t, w))

	// The expired token's verified identity attributes the failure to both
	// the account and the source IP.
	locked, _ := fx.registry.AccountLocked(context.Background(), "t1", "u1")
	require.True(t, locked)
	blocked, _ := fx.registry.IPBlocked(context.Background(), "10.3.3.3")
	require.True(t, blocked)
}

func TestAuthRefreshRejectedByProvider(t *testing.T) {
	key := generateKey(t)
	hub := &fakeHub{
		keys:       []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)},
		refreshErr: domain.ErrInvalidRefreshToken,
	}
	fx := newAuthFixture(t, hub)

	expired := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(-time.Minute)})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: testRefreshCookie})
	w := perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeRefreshFailed, decodeError(t, w))
}

func TestAuthRefreshCookieTooShort(t *testing.T) {
	key := generateKey(t)
	fx := newAuthFixture(t, &fakeHub{keys: []domain.PublicKey{domain.PublicKeyFromRSA("key-1", &key.PublicKey)}})

	expired := mintToken(t, key, "key-1", tokenSpec{subject: "u1", tenantID: "t1", expiry: authTestNow.Add(-time.Minute)})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: strings.Repeat("x", 8)})
	w := perform(t, req, fx.auth.Handler())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, domain.CodeRefreshFailed, decodeError(t, w))
}
