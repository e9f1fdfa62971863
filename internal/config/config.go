// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, rate limiting, expiry horizons, the NDI verifier
// endpoints and credentials, event publishing and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "ndi-proof-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the persistence backend.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	DSN    string // DB_DSN (postgres)
}

// ExpiryConfig holds the horizons used by the janitor.
type ExpiryConfig struct {
	PendingTTL time.Duration // PENDING_TTL
	ResultTTL  time.Duration // RESULT_TTL
	ReceiptTTL time.Duration // RECEIPT_TTL
	Schedule   string        // JANITOR_SCHEDULE (cron spec)
}

// NDIConfig holds the verifier endpoints, credentials and proof template.
type NDIConfig struct {
	AuthURL      string
	VerifierURL  string
	BaseURL      string
	ClientID     string
	ClientSecret string

	WebhookID    string
	WebhookToken string // also required as bearer on inbound webhooks when set
	PublicURL    string // PUBLIC_URL: webhook registration is skipped when empty

	ProofName     string
	SchemaName    string
	IDAttribute   string
	NameAttribute string

	HTTPTimeout time.Duration
	RetryMax    int
}

// AMQPConfig configures optional verification event publishing.
type AMQPConfig struct {
	URL        string // AMQP_URL: empty disables publishing
	Exchange   string
	RoutingKey string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Expiry ExpiryConfig
	NDI    NDIConfig
	AMQP   AMQPConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "5000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			DSN:    getenv("DB_DSN", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Expiry: ExpiryConfig{
			PendingTTL: getdur("PENDING_TTL", time.Hour),
			ResultTTL:  getdur("RESULT_TTL", time.Hour),
			ReceiptTTL: getdur("RECEIPT_TTL", time.Hour),
			Schedule:   getenv("JANITOR_SCHEDULE", "@every 1h"),
		},

		NDI: NDIConfig{
			AuthURL:       getenv("NDI_AUTH_URL", "https://staging.bhutanndi.com/authentication/v1/authenticate"),
			VerifierURL:   getenv("NDI_VERIFIER_URL", "https://demo-client.bhutanndi.com/verifier/v1/proof-request"),
			BaseURL:       getenv("NDI_BASE_URL", "https://demo-client.bhutanndi.com"),
			ClientID:      getenv("NDI_CLIENT_ID", ""),
			ClientSecret:  getenv("NDI_CLIENT_SECRET", ""),
			WebhookID:     getenv("NDI_WEBHOOK_ID", ""),
			WebhookToken:  getenv("NDI_WEBHOOK_TOKEN", ""),
			PublicURL:     strings.TrimRight(getenv("PUBLIC_URL", ""), "/"),
			ProofName:     getenv("NDI_PROOF_NAME", "Verify Foundational ID"),
			SchemaName:    getenv("NDI_SCHEMA_NAME", "https://dev-schema.ngotag.com/schemas/c7952a0a-e9b5-4a4b-a714-1e5d0a1ae076"),
			IDAttribute:   getenv("NDI_ID_ATTRIBUTE", "ID Number"),
			NameAttribute: getenv("NDI_NAME_ATTRIBUTE", "Full Name"),
			HTTPTimeout:   getdur("NDI_HTTP_TIMEOUT", 15*time.Second),
			RetryMax:      getint("NDI_RETRY_MAX", 3),
		},

		AMQP: AMQPConfig{
			URL:        getenv("AMQP_URL", ""),
			Exchange:   getenv("AMQP_EXCHANGE", "ndi.verifications"),
			RoutingKey: getenv("AMQP_ROUTING_KEY", "verification.resolved"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ndi-proof-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Expiry.PendingTTL <= 0 || cfg.Expiry.ResultTTL <= 0 || cfg.Expiry.ReceiptTTL <= 0 {
		return cfg, errors.New("PENDING_TTL, RESULT_TTL and RECEIPT_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.Expiry.Schedule) == "" {
		return cfg, errors.New("JANITOR_SCHEDULE must not be empty")
	}
	for k, v := range map[string]string{
		"NDI_AUTH_URL":     cfg.NDI.AuthURL,
		"NDI_VERIFIER_URL": cfg.NDI.VerifierURL,
		"NDI_BASE_URL":     cfg.NDI.BaseURL,
	} {
		if !isAbsURL(v) {
			return cfg, errors.New(k + " must be an absolute http(s) URL")
		}
	}
	if cfg.NDI.PublicURL != "" && !isAbsURL(cfg.NDI.PublicURL) {
		return cfg, errors.New("PUBLIC_URL must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.NDI.IDAttribute) == "" || strings.TrimSpace(cfg.NDI.NameAttribute) == "" {
		return cfg, errors.New("NDI_ID_ATTRIBUTE and NDI_NAME_ATTRIBUTE must not be empty")
	}
	if cfg.NDI.HTTPTimeout <= 0 {
		return cfg, errors.New("NDI_HTTP_TIMEOUT must be > 0")
	}
	if cfg.NDI.RetryMax < 0 {
		return cfg, errors.New("NDI_RETRY_MAX must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func isAbsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
