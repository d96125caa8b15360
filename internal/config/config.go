// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultSecretKey is the development fallback for SECRET_KEY. Rejected in production.
const DefaultSecretKey = "insecure-dev-secret-key"

// minProductionSecretLen is the shortest SECRET_KEY accepted in production (256 bits).
const minProductionSecretLen = 32

// Session store backends accepted by SESSION_STORE.
const (
	SessionStoreFilesystem = "filesystem"
	SessionStoreRedis      = "redis"
)

// Config holds all env configuration vars for Gatekeep.
type Config struct {
	AppEnv       string
	Port         string
	PublicURL    string // external base URL, used to build the OAuth callback
	CookieDomain string
	LogLevel     slog.Level

	// SecretKey signs session cookies. PreviousSecretKey, when set, still
	// verifies cookies signed before a rotation.
	SecretKey         string
	PreviousSecretKey string

	// Session cookie lifetimes. Defaults: 1h standard, 720h (30d) remember-me.
	SessionLifetime   time.Duration
	SessionRememberMe time.Duration
	// SessionProtection is "strong", "basic" or "off".
	SessionProtection string
	// SessionStore is "filesystem" (default) or "redis".
	SessionStore string
	SessionDir   string
	RedisURL     string

	// DatabaseURL is optional; empty disables the audit log.
	DatabaseURL    string
	AuditRetention time.Duration

	// CookieSecure defaults to true; forced true when PublicURL is https or TLS is on.
	CookieSecure bool
	TLSCertFile  string
	TLSKeyFile   string

	// Identity provider.
	SupabaseURL     string
	SupabaseAnonKey string
	ProviderTimeout time.Duration

	// Turnstile CAPTCHA -- optional; both keys or neither. The per-form flags
	// default to true once keys are set.
	TurnstileSiteKey   string
	TurnstileSecretKey string
	CaptchaRegister    bool
	CaptchaLogin       bool

	// SMTP for sign-in alerts -- optional; SMTP_HOST enables, SMTP_FROM then required.
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	MailQueueMax int64
}

// MailEnabled reports whether sign-in alerts are configured.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

// CaptchaEnabled reports whether Turnstile keys are configured.
func (c *Config) CaptchaEnabled() bool {
	return c.TurnstileSiteKey != "" && c.TurnstileSecretKey != ""
}

// Production reports whether APP_ENV=production.
func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// CallbackURL is the absolute URL the provider redirects back to after OAuth.
func (c *Config) CallbackURL() string {
	return c.PublicURL + "/auth/oauth-callback"
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (SUPABASE_URL, SUPABASE_ANON_KEY) are missing
// or a production deployment is misconfigured.
func LoadConfig() (*Config, error) {
	// Create config obj
	cfg := &Config{}

	cfg.AppEnv = strings.ToLower(os.Getenv("APP_ENV"))
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	// Attempt to get provider url + key, if missing, err
	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		return nil, errors.New("SUPABASE_URL is required")
	}
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		return nil, errors.New("SUPABASE_ANON_KEY is required")
	}
	cfg.ProviderTimeout = envDuration("PROVIDER_TIMEOUT", 10*time.Second)

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	cfg.PublicURL = strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:" + cfg.Port
	}

	// Attempt to get cookie domain
	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	// Secret key -- dev default allowed outside production only.
	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		cfg.SecretKey = DefaultSecretKey
	}
	cfg.PreviousSecretKey = os.Getenv("SECRET_KEY_PREVIOUS")
	if cfg.Production() {
		if cfg.SecretKey == DefaultSecretKey {
			return nil, errors.New("SECRET_KEY must be set in production")
		}
		if len(cfg.SecretKey) < minProductionSecretLen {
			return nil, fmt.Errorf("SECRET_KEY must be at least %d bytes in production", minProductionSecretLen)
		}
	} else if cfg.SecretKey == DefaultSecretKey {
		slog.Warn("using insecure default SECRET_KEY; set SECRET_KEY before deploying")
	}

	// Sessions. SESSION_LIFETIME is in seconds.
	cfg.SessionLifetime = time.Duration(envInt("SESSION_LIFETIME", 3600)) * time.Second
	cfg.SessionRememberMe = envDuration("SESSION_REMEMBER_ME_TTL", 720*time.Hour)

	cfg.SessionProtection = strings.ToLower(os.Getenv("SESSION_PROTECTION"))
	switch cfg.SessionProtection {
	case "":
		cfg.SessionProtection = "strong"
	case "strong", "basic", "off":
	default:
		return nil, fmt.Errorf("SESSION_PROTECTION must be strong, basic or off, got %q", cfg.SessionProtection)
	}

	cfg.SessionStore = strings.ToLower(os.Getenv("SESSION_STORE"))
	if cfg.SessionStore == "" {
		cfg.SessionStore = SessionStoreFilesystem
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	switch cfg.SessionStore {
	case SessionStoreFilesystem:
		cfg.SessionDir = os.Getenv("SESSION_DIR")
		if cfg.SessionDir == "" {
			cfg.SessionDir = filepath.Join(os.TempDir(), "gatekeep-sessions")
		}
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when SESSION_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("SESSION_STORE must be filesystem or redis, got %q", cfg.SessionStore)
	}

	// Audit log -- optional.
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.AuditRetention = envDuration("AUDIT_RETENTION", 90*24*time.Hour)

	// TLS -- both files or neither.
	cfg.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	// CAPTCHA -- both keys or neither.
	cfg.TurnstileSiteKey = os.Getenv("TURNSTILE_SITE_KEY")
	cfg.TurnstileSecretKey = os.Getenv("TURNSTILE_SECRET_KEY")
	if (cfg.TurnstileSiteKey == "") != (cfg.TurnstileSecretKey == "") {
		return nil, errors.New("TURNSTILE_SITE_KEY and TURNSTILE_SECRET_KEY must be set together")
	}
	cfg.CaptchaRegister = os.Getenv("CAPTCHA_REGISTER") != "false"
	cfg.CaptchaLogin = os.Getenv("CAPTCHA_LOGIN") != "false"

	// SMTP -- optional.
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, errors.New("SMTP_FROM is required when SMTP_HOST is set")
	}
	cfg.MailQueueMax = int64(envInt("MAIL_QUEUE_MAX", 1000))

	// Default true -- only explicit "false" disables, and never over https.
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"
	if strings.HasPrefix(cfg.PublicURL, "https://") || cfg.TLSEnabled() {
		if !cfg.CookieSecure {
			slog.Warn("COOKIE_SECURE=false ignored for https deployment")
		}
		cfg.CookieSecure = true
	}

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
