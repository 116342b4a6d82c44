package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv   string
	RedisURL string
	API      APIConfig
	Cache    CacheConfig
	Circuit  CircuitConfig
	Gateway  GatewayConfig
	Obs      ObsConfig
}

// APIConfig configures the client side of the payments backend.
type APIConfig struct {
	BaseURL          string
	AuthToken        string
	TokenFile        string
	HTTPTimeout      time.Duration
	RetryBase        time.Duration
	RetryMaxAttempts int
}

// CacheConfig configures client-side caches.
type CacheConfig struct {
	PricingTTL time.Duration
}

// CircuitConfig configures the outbound circuit breakers.
type CircuitConfig struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// GatewayConfig configures the payments gateway server.
type GatewayConfig struct {
	Port               string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	WebhookSecret      string
	CrossmintAPIKey    string
	CrossmintAPIURL    string
	CrossmintEnv       string
	WebhookReplayTTL   time.Duration
	RateLimitWindow    time.Duration
	RateLimitMax       int
	CORSAllowedOrigins []string
	WebhookAsync       bool
	WorkerConcurrency  int
	LockTTL            time.Duration
	TokenTTL           time.Duration
	HSTS               bool
	MaxBodyBytes       int64
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
	MetricsNamespace string
}

// Load reads configuration from environment variables and optional .env files.
// It applies defaults but does not require any secret.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:   valueOrDefault(k.String("APP_ENV"), "development"),
		RedisURL: strings.TrimSpace(k.String("REDIS_URL")),
		API: APIConfig{
			BaseURL:          strings.TrimRight(valueOrDefault(k.String("CHECKOUT_API_BASE_URL"), "http://localhost:8080"), "/"),
			AuthToken:        strings.TrimSpace(k.String("CHECKOUT_AUTH_TOKEN")),
			TokenFile:        strings.TrimSpace(k.String("CHECKOUT_TOKEN_FILE")),
			HTTPTimeout:      parseDuration(k.String("HTTP_TIMEOUT"), "15s"),
			RetryBase:        parseDuration(k.String("RETRY_BASE"), "1s"),
			RetryMaxAttempts: parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		},
		Cache: CacheConfig{
			PricingTTL: parseDuration(k.String("PRICING_CACHE_TTL"), "5m"),
		},
		Circuit: CircuitConfig{
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		},
		Gateway: GatewayConfig{
			Port:               valueOrDefault(k.String("GATEWAY_PORT"), "8080"),
			JWTSecret:          k.String("JWT_SECRET"),
			JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
			JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
			WebhookSecret:      k.String("CROSSMINT_WEBHOOK_SECRET"),
			CrossmintAPIKey:    k.String("CROSSMINT_SERVER_API_KEY"),
			CrossmintAPIURL:    strings.TrimRight(strings.TrimSpace(k.String("CROSSMINT_API_URL")), "/"),
			CrossmintEnv:       valueOrDefault(k.String("CROSSMINT_ENVIRONMENT"), "staging"),
			WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
			RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
			RateLimitMax:       parseInt(k.String("RATE_LIMIT_MAX"), 10),
			CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
			WebhookAsync:       parseBool(k.String("WEBHOOK_ASYNC")),
			WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
			LockTTL:            parseDuration(k.String("LOCK_TTL"), "30s"),
			TokenTTL:           parseDuration(k.String("JWT_TOKEN_TTL"), "1h"),
			HSTS:               parseBool(k.String("ENABLE_HSTS")),
			MaxBodyBytes:       int64(parseInt(k.String("MAX_BODY_BYTES"), 64<<10)),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "checkout"),
		},
	}

	if cfg.API.RetryMaxAttempts <= 0 {
		cfg.API.RetryMaxAttempts = 3
	}
	if cfg.Obs.SamplingRatio < 0 || cfg.Obs.SamplingRatio > 1 {
		cfg.Obs.SamplingRatio = 1
	}
	return cfg, nil
}

// LoadClient loads configuration for the checkout client.
func LoadClient() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("CHECKOUT_API_BASE_URL is invalid: %q", cfg.API.BaseURL)
	}
	return cfg, nil
}

// LoadGateway loads configuration for the gateway server.
func LoadGateway() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateGateway(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateGateway checks the settings the gateway cannot run without.
func (c *Config) ValidateGateway() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.Gateway.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Gateway.RateLimitMax <= 0 {
		return errors.New("RATE_LIMIT_MAX must be positive")
	}
	return nil
}

// CrossmintBaseURL returns the configured Crossmint API URL, or the public
// endpoint for CrossmintEnv.
func (c *Config) CrossmintBaseURL() string {
	if c.Gateway.CrossmintAPIURL != "" {
		return c.Gateway.CrossmintAPIURL
	}
	if strings.EqualFold(c.Gateway.CrossmintEnv, "production") {
		return "https://www.crossmint.com/api"
	}
	return "https://staging.crossmint.com/api"
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// HTTPAddr returns the address the gateway should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Gateway.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Token returns the bearer token, reading TokenFile when no token is set
// inline.
func (c APIConfig) Token() (string, error) {
	if c.AuthToken != "" || c.TokenFile == "" {
		return c.AuthToken, nil
	}
	raw, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests runs load with env applied on top of the process
// environment, restoring it afterwards.
func LoadForTests(env map[string]string, load func() (*Config, error)) (*Config, error) {
	if load == nil {
		load = Load
	}
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
