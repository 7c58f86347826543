package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/ratelimit"
	"github.com/smallbiznis/valora-gateway/internal/token"
)

// Auth authenticates bearer tokens and, for structurally valid but expired
// ones, attempts a silent refresh before rejecting.
type Auth struct {
	Validator   *token.Validator
	Coordinator *token.Coordinator
	Recorder    *ratelimit.FailureRecorder
	Public      *PublicPaths
	CookieName  string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Handler returns the JWT authentication stage.
func (m *Auth) Handler() gin.HandlerFunc {
	logger := m.Logger
	if logger == nil {
		logger = zap.L()
	}
	now := m.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		if m.Public.IsPublic(requestHost(c.Request), c.Request.URL.Path) {
			c.Set(publicBypassKey, true)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, http.StatusUnauthorized, domain.CodeInvalidToken, "Authorization header required.")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, http.StatusUnauthorized, domain.CodeInvalidToken, "Bearer token required.")
			return
		}

		accessToken, err := domain.ParseAccessToken(parts[1])
		if err != nil {
			m.Recorder.RecordFailure(c.Request.Context(), c.ClientIP(), "", "")
			abortWithError(c, http.StatusUnauthorized, domain.CodeInvalidToken, "Malformed access token.")
			return
		}

		claims, err := m.Validator.Validate(c.Request.Context(), accessToken)
		switch {
		case err == nil:
			setClaims(c, claims)
			c.Next()

		case errors.Is(err, domain.ErrTokenExpired):
			m.refreshOrReject(c, accessToken, now())

		case errors.Is(err, domain.ErrUnknownKey):
			// Claims in an unverifiable token are attacker-controlled, so
			// these failures count only against the source IP.
			m.Recorder.RecordFailure(c.Request.Context(), c.ClientIP(), "", "")
			abortWithError(c, http.StatusUnauthorized, domain.CodeUnknownKey, "Token signed with an unknown key.")

		case errors.Is(err, domain.ErrMalformedToken), errors.Is(err, domain.ErrInvalidToken):
			m.Recorder.RecordFailure(c.Request.Context(), c.ClientIP(), "", "")
			abortWithError(c, http.StatusUnauthorized, domain.CodeInvalidToken, "Invalid access token.")

		default:
			// Key resolution infrastructure failure: fail closed.
			logger.Error("token validation unavailable", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, domain.CodeInternalError, "Authentication temporarily unavailable.")
		}
	}
}

// refreshOrReject runs the silent-refresh protocol for an expired token.
// Preconditions per the refresh contract: a refresh cookie must be present
// and the expired token must reveal both userId and tenantId.
func (m *Auth) refreshOrReject(c *gin.Context, expired domain.AccessToken, now time.Time) {
	logger := m.Logger
	if logger == nil {
		logger = zap.L()
	}

	cookie, err := c.Cookie(m.CookieName)
	if err != nil || cookie == "" {
		abortWithError(c, http.StatusUnauthorized, domain.CodeTokenExpired, "Access token expired.")
		return
	}

	info := token.Inspect(expired.Raw(), now)
	if !info.CanRefresh() {
		abortWithError(c, http.StatusUnauthorized, domain.CodeTokenExpired, "Access token expired.")
		return
	}

	refreshToken, err := domain.NewRefreshToken(cookie)
	if err != nil {
		// Identity came from a token whose signature already verified, so the
		// failure counts against the account as well as the source IP.
		m.Recorder.RecordFailure(c.Request.Context(), c.ClientIP(), info.TenantID, info.UserID)
		abortWithError(c, http.StatusUnauthorized, domain.CodeRefreshFailed, "Invalid refresh token.")
		return
	}

	pair, err := m.Coordinator.Refresh(c.Request.Context(), info.TenantID, info.UserID, refreshToken)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRefreshTokenReused):
		m.Recorder.RecordFailure(c.Request.Context(), c.ClientIP(), info.TenantID, info.UserID)
		abortWithError(c, http.StatusUnauthorized, domain.CodeRefreshTokenReused, "Refresh token already used.")
		return
	case errors.Is(err, domain.ErrInvalidRefreshToken):
		m.Recorder.RecordFailure(c.Request.Context(), c.ClientIP(), info.TenantID, info.UserID)
		abortWithError(c, http.StatusUnauthorized, domain.CodeRefreshFailed, "Refresh rejected.")
		return
	default:
		logger.Error("token refresh unavailable",
			zap.String("trace_id", GetTraceID(c)),
			zap.String("tenant_id", info.TenantID),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, domain.CodeInternalError, "Token refresh temporarily unavailable.")
		return
	}

	rotated, err := domain.ParseAccessToken(pair.AccessToken)
	if err != nil {
		logger.Error("rotated access token malformed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, domain.CodeInternalError, "Token refresh produced an invalid token.")
		return
	}
	claims, err := m.Validator.Validate(c.Request.Context(), rotated)
	if err != nil {
		logger.Error("rotated access token rejected", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, domain.CodeInternalError, "Token refresh produced an invalid token.")
		return
	}

	// Mutate the outgoing request and hand the rotated pair back to the
	// client, then continue the pipeline as authenticated.
	c.Request.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	c.SetCookie(m.CookieName, pair.RefreshToken, 0, "/", "", c.Request.TLS != nil, true)
	c.Writer.Header().Set("X-Access-Token", pair.AccessToken)

	setClaims(c, claims)
	c.Next()
}
