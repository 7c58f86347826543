package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthHubURL string

	KeyCacheTTL    time.Duration
	SpecCacheTTL   time.Duration
	HashCacheTTL   time.Duration
	TenantCacheTTL time.Duration

	IPRateLimit        int
	IPRateWindow       time.Duration
	EndpointRateLimit  int
	EndpointRateWindow time.Duration
	UserRateLimit      int
	UserRateWindow     time.Duration

	RefreshCookieName   string
	RefreshLockLease    time.Duration
	RefreshLockWait     time.Duration
	RefreshBlacklistTTL time.Duration

	AuthFailureWindow       time.Duration
	IPFailureThreshold      int
	AccountFailureThreshold int
	IPBlockTTL              time.Duration
	AccountLockTTL          time.Duration

	WebhookRateLimitRPM int

	RoutesFile string
	Routes     RouteTable

	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// ServiceRoute maps one backend service to its upstream and the hosts it
// serves, with the service-scoped public path allow-list.
type ServiceRoute struct {
	Name        string   `json:"name"`
	Upstream    string   `json:"upstream"`
	Hosts       []string `json:"hosts"`
	PublicPaths []string `json:"publicPaths"`
}

// RouteTable is the static routing and public-path configuration loaded at
// startup.
type RouteTable struct {
	Services          []ServiceRoute `json:"services"`
	GlobalPublicPaths []string       `json:"globalPublicPaths"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	authHubURL := strings.TrimSpace(os.Getenv("AUTHHUB_URL"))
	if authHubURL == "" {
		return Config{}, fmt.Errorf("AUTHHUB_URL is required")
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "valora-gateway"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		AuthHubURL: authHubURL,

		KeyCacheTTL:    getDuration("KEY_CACHE_TTL", time.Hour),
		SpecCacheTTL:   getDuration("SPEC_CACHE_TTL", 10*time.Minute),
		HashCacheTTL:   getDuration("HASH_CACHE_TTL", 5*time.Minute),
		TenantCacheTTL: getDuration("TENANT_CACHE_TTL", 10*time.Minute),

		IPRateLimit:        getInt("IP_RATE_LIMIT", 300),
		IPRateWindow:       getDuration("IP_RATE_WINDOW", time.Minute),
		EndpointRateLimit:  getInt("ENDPOINT_RATE_LIMIT", 1000),
		EndpointRateWindow: getDuration("ENDPOINT_RATE_WINDOW", time.Minute),
		UserRateLimit:      getInt("USER_RATE_LIMIT", 120),
		UserRateWindow:     getDuration("USER_RATE_WINDOW", time.Minute),

		RefreshCookieName:   getEnv("REFRESH_COOKIE_NAME", "refresh_token"),
		RefreshLockLease:    getDuration("REFRESH_LOCK_LEASE", 5*time.Second),
		RefreshLockWait:     getDuration("REFRESH_LOCK_WAIT", 2*time.Second),
		RefreshBlacklistTTL: getDuration("REFRESH_BLACKLIST_TTL", 30*24*time.Hour),

		AuthFailureWindow:       getDuration("AUTH_FAILURE_WINDOW", 10*time.Minute),
		IPFailureThreshold:      getInt("IP_FAILURE_THRESHOLD", 20),
		AccountFailureThreshold: getInt("ACCOUNT_FAILURE_THRESHOLD", 10),
		IPBlockTTL:              getDuration("IP_BLOCK_TTL", 15*time.Minute),
		AccountLockTTL:          getDuration("ACCOUNT_LOCK_TTL", 15*time.Minute),

		WebhookRateLimitRPM: getInt("WEBHOOK_RATE_LIMIT_RPM", 120),

		RoutesFile: getEnv("ROUTES_FILE", "routes.json"),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Request-ID"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	routes, err := LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Routes = routes

	return cfg, nil
}

// LoadRoutes parses the JSON route table. A missing file yields an empty
// table so the gateway can boot before routes are provisioned.
func LoadRoutes(path string) (RouteTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RouteTable{}, nil
		}
		return RouteTable{}, fmt.Errorf("read routes file: %w", err)
	}

	var table RouteTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return RouteTable{}, fmt.Errorf("parse routes file: %w", err)
	}
	for _, svc := range table.Services {
		if svc.Name == "" || svc.Upstream == "" {
			return RouteTable{}, fmt.Errorf("routes file: service entries require name and upstream")
		}
	}
	return table, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
