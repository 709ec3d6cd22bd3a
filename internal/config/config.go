package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeStandalone  = "standalone"
	AuthModeExternal    = "external"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	AuthMode            string        `mapstructure:"AUTH_MODE"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL         string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	KeywordRegistryFile string        `mapstructure:"KEYWORD_REGISTRY_FILE"`
	MaxInputLength      int           `mapstructure:"MAX_INPUT_LENGTH"`
	AuditTimeout        time.Duration `mapstructure:"AUDIT_TIMEOUT"`
	AuditMaxInFlight    int           `mapstructure:"AUDIT_MAX_IN_FLIGHT"`
	AuditWebhookURL     string        `mapstructure:"AUDIT_WEBHOOK_URL"`
	AuditWebhookSecret  string        `mapstructure:"AUDIT_WEBHOOK_SECRET"`
	NATSURL             string        `mapstructure:"NATS_URL"`
	NATSSubject         string        `mapstructure:"NATS_SUBJECT"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"KEYWORD_REGISTRY_FILE", "MAX_INPUT_LENGTH",
	"AUDIT_TIMEOUT", "AUDIT_MAX_IN_FLIGHT", "AUDIT_WEBHOOK_URL", "AUDIT_WEBHOOK_SECRET",
	"NATS_URL", "NATS_SUBJECT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
}

const (
	// maxBytesPerRune is the widest JSON encoding of one rune: a non-BMP
	// character sent as two \uXXXX escapes.
	maxBytesPerRune = 12
	bodyHeadroom    = 16 << 10
)

// BodyLimitFor is the default request body cap in bytes: room for
// maxInputLength worst-case escaped runes plus the rest of the request
// document. An input the engine would accept is never refused as too large.
func BodyLimitFor(maxInputLength int) int {
	return maxInputLength*maxBytesPerRune + bodyHeadroom
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MAX_INPUT_LENGTH", 10000)
	v.SetDefault("AUDIT_TIMEOUT", "2s")
	v.SetDefault("AUDIT_MAX_IN_FLIGHT", 64)
	v.SetDefault("NATS_SUBJECT", "crisis.alerts")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.BodyLimit == "" {
		cfg.BodyLimit = strconv.Itoa(BodyLimitFor(cfg.MaxInputLength))
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token run as the admin dev user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase reports whether the Postgres audit sink should be enabled.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (unauthenticated requests get admin)
//   - AUTH_JWKS_URL or AUTH_ISSUER set → "external" (RS256 via JWKS)
//   - Otherwise → "standalone" (HS256 with AUTH_SIGNING_KEY)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthJWKSURL != "" || c.AuthIssuer != "" {
		return AuthModeExternal
	}
	return AuthModeStandalone
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed when ENV=production")
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" || c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_ISSUER and AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
					"Refusing to start without authentication configuration", c.Env)
		}
	case AuthModeStandalone:
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_MODE is \"standalone\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}

	if c.MaxInputLength <= 0 {
		return fmt.Errorf("MAX_INPUT_LENGTH must be positive, got %d", c.MaxInputLength)
	}
	if c.AuditTimeout <= 0 {
		return fmt.Errorf("AUDIT_TIMEOUT must be positive, got %s", c.AuditTimeout)
	}
	if c.AuditMaxInFlight <= 0 {
		return fmt.Errorf("AUDIT_MAX_IN_FLIGHT must be positive, got %d", c.AuditMaxInFlight)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive, got %v/%d", c.RateLimitRPS, c.RateLimitBurst)
	}
	if c.HasDatabase() && (c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
	}

	if c.AuditWebhookURL != "" && c.AuditWebhookSecret == "" && c.IsProduction() {
		return fmt.Errorf("AUDIT_WEBHOOK_SECRET is required when AUDIT_WEBHOOK_URL is set in production")
	}

	return nil
}
