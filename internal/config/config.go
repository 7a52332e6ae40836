package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings, read once at startup from the
// environment and treated as immutable afterwards.
type Config struct {
	Environment string
	HTTPAddr    string

	// Database. DatabaseURL selects postgres; when empty, SQLitePath is
	// used instead (development and tests).
	DatabaseURL string
	SQLitePath  string

	// Redis backs one-time tokens, idempotency and distributed rate limits.
	RedisAddr     string
	RedisPassword string

	// Token issuance.
	JWTIssuer          string
	JWTAudience        string
	JWTAccessSecret    string
	JWTRefreshSecret   string
	RefreshTokenPepper string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	// One-time token TTLs.
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration

	// Federated providers.
	GoogleUserInfoURL string
	AppleUserInfoURL  string
	AppleEnabled      bool

	// Upstream call budget (federated userinfo, mail dispatch).
	UpstreamTimeout time.Duration

	// HTTP surface.
	CORSOrigins      []string
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	BodyLimitBytes   int64

	// Observability.
	OTELEnabled               bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration

	// Shutdown.
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. Secrets are required
// outside development; everything else has a sane default.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:               envOr("APP_ENV", "development"),
		HTTPAddr:                  envOr("HTTP_ADDR", ":3001"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		SQLitePath:                envOr("SQLITE_PATH", "owlby.db"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		JWTIssuer:                 envOr("JWT_ISSUER", "owlby-backend"),
		JWTAudience:               envOr("JWT_AUDIENCE", "owlby-app"),
		JWTAccessSecret:           os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:          os.Getenv("JWT_REFRESH_SECRET"),
		RefreshTokenPepper:        os.Getenv("REFRESH_TOKEN_PEPPER"),
		GoogleUserInfoURL:         envOr("GOOGLE_USERINFO_URL", "https://www.googleapis.com/oauth2/v3/userinfo"),
		AppleUserInfoURL:          os.Getenv("APPLE_USERINFO_URL"),
		OTELServiceName:           envOr("OTEL_SERVICE_NAME", "owlby-backend"),
		OTELEnvironment:           envOr("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
	cfg.AppleEnabled = cfg.AppleUserInfoURL != ""
	cfg.OTELEnabled = envBool("OTEL_ENABLED", false)
	cfg.OTELExporterOTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", true)

	var err error
	if cfg.AccessTokenTTL, err = envDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PasswordResetTTL, err = envDuration("PASSWORD_RESET_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.EmailVerificationTTL, err = envDuration("EMAIL_VERIFICATION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = envDuration("UPSTREAM_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = envDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimitRPM, err = envInt("AUTH_RATE_LIMIT_RPM", 30); err != nil {
		return nil, err
	}
	if cfg.APIRateLimitRPM, err = envInt("API_RATE_LIMIT_RPM", 600); err != nil {
		return nil, err
	}
	if cfg.BodyLimitBytes, err = envInt64("BODY_LIMIT_BYTES", 1<<20); err != nil {
		return nil, err
	}
	cfg.CORSOrigins = splitCSV(envOr("CORS_ORIGINS", "http://localhost:8081"))

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Environment, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTAccessSecret == "" {
		if c.IsProduction() {
			missing = append(missing, "JWT_ACCESS_SECRET")
		} else {
			c.JWTAccessSecret = "dev-access-secret-not-for-prod!!"
		}
	}
	if c.JWTRefreshSecret == "" {
		if c.IsProduction() {
			missing = append(missing, "JWT_REFRESH_SECRET")
		} else {
			c.JWTRefreshSecret = "dev-refresh-secret-not-for-prod!"
		}
	}
	if c.RefreshTokenPepper == "" {
		if c.IsProduction() {
			missing = append(missing, "REFRESH_TOKEN_PEPPER")
		} else {
			c.RefreshTokenPepper = "dev-pepper"
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("validate config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(c.JWTAccessSecret) < 32 && c.IsProduction() {
		return fmt.Errorf("validate config: JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("validate config: refresh TTL must exceed access TTL")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
