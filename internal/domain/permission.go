package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Permission is a "resource:action" pair. An action of "*" is a wildcard
// covering every action on the resource.
type Permission string

// NewPermission validates the lower-case, colon-delimited shape.
func NewPermission(value string) (Permission, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: %q is not resource:action", ErrInvalidPermission, value)
	}
	if value != strings.ToLower(value) {
		return "", fmt.Errorf("%w: %q must be lower-case", ErrInvalidPermission, value)
	}
	return Permission(value), nil
}

// Resource returns the segment before the colon.
func (p Permission) Resource() string {
	if i := strings.Index(string(p), ":"); i >= 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Action returns the segment after the colon.
func (p Permission) Action() string {
	if i := strings.Index(string(p), ":"); i >= 0 {
		return string(p)[i+1:]
	}
	return ""
}

// IsWildcard reports whether the permission covers every action on its
// resource.
func (p Permission) IsWildcard() bool { return p.Action() == "*" }

// Includes reports whether holding p satisfies a requirement for other.
func (p Permission) Includes(other Permission) bool {
	if p == other {
		return true
	}
	return p.IsWildcard() && p.Resource() == other.Resource()
}

// EndpointPermission is one routing rule from the global permission spec.
// Path may contain {var} placeholders, each matching a single path segment.
type EndpointPermission struct {
	Service     string   `json:"service"`
	Path        string   `json:"path"`
	Method      string   `json:"method"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
	Public      bool     `json:"isPublic"`
}

// RequiresAuthorization is true iff the rule is not public and names at
// least one permission or role.
func (e EndpointPermission) RequiresAuthorization() bool {
	return !e.Public && (len(e.Permissions) > 0 || len(e.Roles) > 0)
}

// Matches reports whether the rule applies to the given path and method.
func (e EndpointPermission) Matches(path, method string) bool {
	if !strings.EqualFold(e.Method, method) {
		return false
	}
	return MatchPathTemplate(e.Path, path)
}

// MatchPathTemplate matches a concrete request path against a template where
// {name} placeholders stand for exactly one path segment. A placeholder never
// matches across a slash.
func MatchPathTemplate(template, path string) bool {
	if !strings.Contains(template, "{") {
		return template == path
	}
	re, err := regexp.Compile(buildTemplatePattern(template))
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

func buildTemplatePattern(template string) string {
	var b strings.Builder
	b.WriteString("^")
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		close := strings.Index(rest[open:], "}")
		if close < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:open]))
		b.WriteString(`[^/]+`)
		rest = rest[open+close+1:]
	}
	b.WriteString("$")
	return b.String()
}

// PermissionSpec is the versioned snapshot of all endpoint rules published
// by AuthHub.
type PermissionSpec struct {
	Version   int64                `json:"version"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Rules     []EndpointPermission `json:"permissions"`
}

// FindPermission returns the first rule matching path and method.
// Registration order decides priority; callers publish more specific rules
// first.
func (s PermissionSpec) FindPermission(path, method string) (EndpointPermission, bool) {
	for _, rule := range s.Rules {
		if rule.Matches(path, method) {
			return rule, true
		}
	}
	return EndpointPermission{}, false
}

// IsNewerThan is a strict version comparison.
func (s PermissionSpec) IsNewerThan(version int64) bool {
	return s.Version > version
}

// PermissionHash is the materialized permission and role set for one
// (tenant, user) pair.
type PermissionHash struct {
	Hash        string    `json:"hash"`
	Permissions []string  `json:"permissions"`
	Roles       []string  `json:"roles"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// HasPermission reports wildcard-aware containment of required.
func (h PermissionHash) HasPermission(required string) bool {
	req := Permission(required)
	for _, held := range h.Permissions {
		if Permission(held).Includes(req) {
			return true
		}
	}
	return false
}

// HasAllPermissions requires every listed permission to be held.
func (h PermissionHash) HasAllPermissions(required []string) bool {
	for _, r := range required {
		if !h.HasPermission(r) {
			return false
		}
	}
	return true
}

// HasRole is an exact role membership check.
func (h PermissionHash) HasRole(role string) bool {
	for _, held := range h.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// HasAnyRole is satisfied by an empty requirement.
func (h PermissionHash) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if h.HasRole(r) {
			return true
		}
	}
	return false
}
