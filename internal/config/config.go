// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	Port            int    `env:"PORT" envDefault:"4000"`
	Host            string `env:"HOST" envDefault:"0.0.0.0"`
	AppDomain       string `env:"APP_DOMAIN"`
	AppAPISubdomain string `env:"APP_API_SUBDOMAIN"`
	AppSecretKey    string `env:"APP_SECRET_KEY"`

	// External processor (iLoveApi). When the secret key is present the
	// client self-signs bearer tokens locally; otherwise it requests them
	// from the auth endpoint.
	ILoveAPIPublicKey string `env:"ILOVEAPI_PUBLIC_KEY"`
	ILoveAPISecretKey string `env:"ILOVEAPI_SECRET_KEY"`
	ILoveAPIBaseURL   string `env:"ILOVEAPI_BASE_URL" envDefault:"https://api.ilovepdf.com"`

	// Fast store: REDIS_URL wins over host/port when both are set.
	RedisURL  string `env:"REDIS_URL"`
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`

	// Durable store (Supabase-hosted Postgres).
	SBURL        string `env:"SB_URL"`
	SBRestURL    string `env:"SB_REST_URL"`
	SBAnonKey    string `env:"SB_ANON_KEY"`
	SBServiceKey string `env:"SB_SERVICE_KEY"`

	// Chat platform.
	TelegramBotToken      string `env:"TELEGRAF_BOT_TOKEN"`
	TelegramWebhookDomain string `env:"TELEGRAF_WEBHOOK_DOMAIN"`
	TelegramWebhookPath   string `env:"TELEGRAF_WEBHOOK_PATH" envDefault:"/telegraf"`
	TelegramWebhookSecret string `env:"TELEGRAF_WEBHOOK_SECRET_TOKEN"`

	// Shared credit ledger.
	DailySharedCreditLimit int64 `env:"DAILY_SHARED_CREDIT_LIMIT" envDefault:"70"`

	// Per-user rate limiter.
	RateLimitTTL        time.Duration `env:"RATE_LIMIT_TTL" envDefault:"60s"`
	RateLimitMax        int           `env:"RATE_LIMIT_MAX" envDefault:"250"`
	RateLimitMaxAttempt int           `env:"RATE_LIMIT_MAX_ATTEMPT" envDefault:"3"`

	// Worker pools. Concurrency 0 means derive from environment
	// (10 in prod, 2 otherwise).
	Concurrency     int           `env:"WORKER_CONCURRENCY" envDefault:"0"`
	LockDuration    time.Duration `env:"WORKER_LOCK_DURATION" envDefault:"40s"`
	LockRenewTime   time.Duration `env:"WORKER_LOCK_RENEW_TIME" envDefault:"20s"`
	StalledInterval time.Duration `env:"WORKER_STALLED_INTERVAL" envDefault:"60s"`

	// HTTP surface.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability.
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"filetools-bot"`

	// Optional tool catalog override file (YAML).
	ToolCatalogPath string `env:"TOOL_CATALOG_PATH"`
}

// Load parses environment variables into a Config and validates the
// required settings.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings with no usable defaults.
func (c Config) Validate() error {
	var missing []string
	if c.AppDomain == "" {
		missing = append(missing, "APP_DOMAIN")
	}
	if c.AppSecretKey == "" {
		missing = append(missing, "APP_SECRET_KEY")
	}
	if c.ILoveAPIPublicKey == "" {
		missing = append(missing, "ILOVEAPI_PUBLIC_KEY")
	}
	if c.SBURL == "" {
		missing = append(missing, "SB_URL")
	}
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAF_BOT_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("op=config.Validate: missing required env: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// RedisAddr resolves the fast-store address. REDIS_URL may be a bare
// host:port or a redis:// URL; the scheme-less form is returned as-is.
func (c Config) RedisAddr() string {
	if c.RedisURL != "" {
		u := strings.TrimPrefix(c.RedisURL, "redis://")
		if i := strings.IndexByte(u, '/'); i >= 0 {
			u = u[:i]
		}
		return u
	}
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// WorkerConcurrency returns the effective per-queue worker concurrency.
func (c Config) WorkerConcurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	if c.IsProd() {
		return 10
	}
	return 2
}

// ProcessorWebhookURL is the public callback URL handed to the external
// processor with every task.
func (c Config) ProcessorWebhookURL() string {
	host := c.AppDomain
	if c.AppAPISubdomain != "" {
		host = c.AppAPISubdomain + "." + c.AppDomain
	}
	if host == "" {
		return ""
	}
	return "https://" + host + "/iloveapi"
}

// WebhookAllowedHosts lists origins accepted by the webhook intake in
// addition to the shared secret. Leading-dot entries match any
// subdomain.
func (c Config) WebhookAllowedHosts() []string {
	hosts := []string{".ilovepdf.com", ".iloveimg.com"}
	if c.AppDomain != "" {
		hosts = append(hosts, c.AppDomain)
	}
	if c.AppAPISubdomain != "" && c.AppDomain != "" {
		hosts = append(hosts, c.AppAPISubdomain+"."+c.AppDomain)
	}
	return hosts
}
