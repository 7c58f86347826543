package permission

import (
	"context"
	"fmt"

	"github.com/smallbiznis/valora-gateway/internal/domain"
)

// Engine makes the two-tier authorization decision: a matched public rule
// allows unconditionally, anything else requires the caller's permission
// hash to contain every required permission (wildcard-aware) and at least
// one required role when roles are demanded.
type Engine struct {
	cache *Cache
}

// NewEngine builds the engine on top of the cache.
func NewEngine(cache *Cache) *Engine {
	return &Engine{cache: cache}
}

// Decision carries the matched rule for downstream stages.
type Decision struct {
	Rule domain.EndpointPermission
}

// Authorize resolves the endpoint rule for path/method and evaluates it for
// the given principal. Absence of any matching rule is a deny in its own
// right (domain.ErrNoPermissionSpec), never an allow.
func (e *Engine) Authorize(ctx context.Context, tenantID, userID, path, method string) (Decision, error) {
	spec, err := e.cache.Spec(ctx)
	if err != nil {
		return Decision{}, err
	}

	rule, found := spec.FindPermission(path, method)
	if !found {
		return Decision{}, fmt.Errorf("%w: %s %s", domain.ErrNoPermissionSpec, method, path)
	}
	if rule.Public || !rule.RequiresAuthorization() {
		return Decision{Rule: rule}, nil
	}

	hash, err := e.cache.Hash(ctx, tenantID, userID)
	if err != nil {
		return Decision{}, err
	}

	if !hash.HasAllPermissions(rule.Permissions) {
		return Decision{}, fmt.Errorf("%w: missing required permissions", domain.ErrPermissionDenied)
	}
	if !hash.HasAnyRole(rule.Roles) {
		return Decision{}, fmt.Errorf("%w: missing required role", domain.ErrPermissionDenied)
	}
	return Decision{Rule: rule}, nil
}
