// Package proxy is the routing-layer boundary: once the security pipeline
// completes, the mutated request is handed to the reverse proxy for the
// service that owns the request host.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/config"
	"github.com/smallbiznis/valora-gateway/internal/domain"
)

// Proxy routes validated requests to backend services by host.
type Proxy struct {
	byHost map[string]*httputil.ReverseProxy
	logger *zap.Logger
}

// New builds one reverse proxy per configured service.
func New(table config.RouteTable, logger *zap.Logger) (*Proxy, error) {
	if logger == nil {
		logger = zap.L()
	}

	byHost := make(map[string]*httputil.ReverseProxy)
	for _, svc := range table.Services {
		target, err := url.Parse(svc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream for %s: %w", svc.Name, err)
		}

		rp := httputil.NewSingleHostReverseProxy(target)
		serviceName := svc.Name
		rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed",
				zap.String("service", serviceName),
				zap.String("trace_id", r.Header.Get("X-Request-ID")),
				zap.Error(err))
			writeUnavailable(w, r)
		}

		for _, host := range svc.Hosts {
			byHost[strings.ToLower(host)] = rp
		}
	}
	return &Proxy{byHost: byHost, logger: logger}, nil
}

// Handler terminates the pipeline by forwarding to the owning upstream.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		host := effectiveHost(c.Request)
		rp, ok := p.byHost[strings.ToLower(host)]
		if !ok {
			writeUnavailable(c.Writer, c.Request)
			c.Abort()
			return
		}
		rp.ServeHTTP(c.Writer, c.Request)
	}
}

func writeUnavailable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	body := fmt.Sprintf(`{"error":{"errorCode":%q,"message":"No upstream available for this host."},"traceId":%q}`,
		domain.CodeUpstreamUnavailable, r.Header.Get("X-Request-ID"))
	_, _ = w.Write([]byte(body))
}

func effectiveHost(r *http.Request) string {
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
