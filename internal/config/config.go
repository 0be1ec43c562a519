// Package config loads the server configuration from environment variables.
// Every key has a default except JWT_SECRET; malformed numbers, durations and
// booleans fall back to the default, and Load rejects out-of-range values.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimit is a per-route token bucket: RPS tokens per second, Burst size.
type RateLimit struct {
	RPS   float64
	Burst int
}

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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-calshare-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the database driver and its connection string.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH, SQLite file
	URL    string // DATABASE_URL, postgres DSN
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	JWTSecret  string        // JWT_SECRET
	JWTTTL     time.Duration // JWT_TTL
	JWTIssuer  string        // JWT_ISSUER
	BcryptCost int           // BCRYPT_COST

	// Optional admin bootstrap, applied after migrations.
	SeedAdminUsername string
	SeedAdminPassword string
}

// AIConfig selects and configures the availability assistant.
type AIConfig struct {
	Provider string        // AI_PROVIDER: mock|openai|openai-completion
	APIKey   string        // OPENAI_API_KEY
	Model    string        // OPENAI_MODEL
	BaseURL  string        // OPENAI_BASE_URL, empty means the public endpoint
	Timeout  time.Duration // AI_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s, AI calls are slow
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	AppEnv            string        // production|development

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB   DBConfig
	Auth AuthConfig
	AI   AIConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Stricter buckets for login/register and for query creation.
	AuthRate  RateLimit
	QueryRate RateLimit

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// IsProduction reports whether internal error details must be hidden from clients.
func (c Config) IsProduction() bool { return c.AppEnv == "production" }

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		AppEnv:            strings.ToLower(getenv("APP_ENV", "production")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "calshare.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:         getenv("JWT_SECRET", ""),
			JWTTTL:            getdur("JWT_TTL", 24*time.Hour),
			JWTIssuer:         getenv("JWT_ISSUER", "go-calshare-backend"),
			BcryptCost:        getint("BCRYPT_COST", 10),
			SeedAdminUsername: getenv("SEED_ADMIN_USERNAME", "admin"),
			SeedAdminPassword: getenv("SEED_ADMIN_PASSWORD", ""),
		},
		AI: AIConfig{
			Provider: strings.ToLower(getenv("AI_PROVIDER", "mock")),
			APIKey:   getenv("OPENAI_API_KEY", ""),
			Model:    getenv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:  getenv("OPENAI_BASE_URL", ""),
			Timeout:  getdur("AI_TIMEOUT", 45*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),
		AuthRate: RateLimit{
			RPS:   getfloat("RATE_AUTH_RPS", 0.5),
			Burst: getint("RATE_AUTH_BURST", 5),
		},
		QueryRate: RateLimit{
			RPS:   getfloat("RATE_QUERY_RPS", 0.5),
			Burst: getint("RATE_QUERY_BURST", 3),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-calshare-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	if !oneOf(c.GinMode, "debug", "release", "test") {
		c.GinMode = "release"
	}
	if oneOf(c.AppEnv, "dev", "development", "local") {
		c.AppEnv = "development"
	} else {
		c.AppEnv = "production"
	}
	if c.DB.Driver == "postgresql" {
		c.DB.Driver = "postgres"
	}
}

// validate reports every violated rule, joined.
func (c Config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DB.URL) != "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		check(false, "DB_DRIVER must be one of: sqlite, postgres")
	}

	check(len(c.Auth.JWTSecret) >= 16, "JWT_SECRET must be set and at least 16 bytes long")
	check(c.Auth.JWTTTL > 0, "JWT_TTL must be > 0")
	check(c.Auth.BcryptCost >= 4 && c.Auth.BcryptCost <= 31, "BCRYPT_COST must be between 4 and 31")

	switch c.AI.Provider {
	case "mock":
	case "openai", "openai-completion":
		check(strings.TrimSpace(c.AI.APIKey) != "", "OPENAI_API_KEY is required for the openai providers")
	default:
		check(false, "AI_PROVIDER must be one of: mock, openai, openai-completion")
	}
	check(c.AI.Timeout > 0, "AI_TIMEOUT must be > 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.AuthRate.RPS >= 0 && c.AuthRate.Burst >= 1, "RATE_AUTH_RPS must be >= 0 and RATE_AUTH_BURST >= 1")
	check(c.QueryRate.RPS >= 0 && c.QueryRate.Burst >= 1, "RATE_QUERY_RPS must be >= 0 and RATE_QUERY_BURST >= 1")

	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// fromEnv parses k with parse, falling back to def when unset, empty or
// malformed.
func fromEnv[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return fromEnv(k, def, func(s string) (string, error) { return s, nil })
}

func getfloat(k string, def float64) float64 {
	return fromEnv(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getint(k string, def int) int { return fromEnv(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return fromEnv(k, def, time.ParseDuration) }

func getbool(k string, def bool) bool { return fromEnv(k, def, parseBool) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, errors.New("not a boolean")
}

// splitCSV splits on commas, trims, and drops empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns "/" for blank input, otherwise a path with one
// leading slash and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
