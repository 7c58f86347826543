package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/smallbiznis/valora-gateway/internal/config"
	"github.com/smallbiznis/valora-gateway/internal/domain"
)

// PublicPaths answers the host-aware "is this path public" decision. A host
// mapped to a service uses that service's allow-list exclusively; hosts with
// no service configured fall back to the global allow-list.
type PublicPaths struct {
	byHost map[string][]string
	global []string
}

// NewPublicPaths indexes the route table by host.
func NewPublicPaths(table config.RouteTable) *PublicPaths {
	byHost := make(map[string][]string)
	for _, svc := range table.Services {
		for _, host := range svc.Hosts {
			byHost[strings.ToLower(host)] = svc.PublicPaths
		}
	}
	return &PublicPaths{byHost: byHost, global: table.GlobalPublicPaths}
}

// IsPublic reports whether path requires no authentication for host.
func (p *PublicPaths) IsPublic(host, path string) bool {
	patterns, hostKnown := p.byHost[strings.ToLower(host)]
	if !hostKnown {
		patterns = p.global
	}
	for _, pattern := range patterns {
		if matchPublicPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPublicPattern supports exact paths, {var} single-segment templates,
// and a trailing /** subtree wildcard. A bare "/**" makes every path public.
func matchPublicPattern(pattern, path string) bool {
	if pattern == "/**" {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return domain.MatchPathTemplate(pattern, path)
}

// requestHost extracts the effective host, preferring X-Forwarded-Host and
// stripping any port.
func requestHost(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if strings.Contains(host, ":") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
	}
	return host
}
