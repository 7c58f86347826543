package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/smallbiznis/valora-gateway/internal/domain"
)

// Inspect decodes an access token payload without verifying the signature,
// returning whether it is expired and the identity embedded in it. Anything
// undecodable yields a zero value whose CanRefresh is false.
func Inspect(raw string, now time.Time) domain.ExpiredTokenInfo {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return domain.ExpiredTokenInfo{}
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return domain.ExpiredTokenInfo{}
	}

	var body struct {
		Subject  string `json:"sub"`
		TenantID string `json:"tenant_id"`
		Expiry   int64  `json:"exp"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.ExpiredTokenInfo{}
	}
	if body.Expiry == 0 {
		return domain.ExpiredTokenInfo{}
	}

	return domain.ExpiredTokenInfo{
		Expired:  now.After(time.Unix(body.Expiry, 0)),
		UserID:   body.Subject,
		TenantID: body.TenantID,
	}
}
