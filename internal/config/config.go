package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const minJWTSecretLength = 32

// Config holds the application configuration
type Config struct {
	Port        string
	Store       string
	DatabaseURL string
	JWTSecret   string
	CodeSalt    string
	DevMode     bool

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration
	PendingLoginTTL time.Duration
	CodeMaxAttempts int

	LoginMaxFailures     int
	LoginLockout         time.Duration
	TwoFactorMaxFailures int
	TwoFactorLockout     time.Duration

	RedisURL        string
	EmailServiceURL string
	NotifyTimeout   time.Duration
	RequestTimeout  time.Duration

	LoginRateLimit  int
	LoginRateWindow time.Duration
	AdminRateLimit  int
	AdminRateWindow time.Duration

	CORSAllowedOrigins []string

	AdminEmail    string
	AdminPassword string
	AdminUserName string
	TOTPIssuer    string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		Port:    l.str("PORT", "8080"),
		Store:   strings.ToLower(l.str("STORE", StorePostgres)),
		DevMode: l.boolean("DEV_MODE"),

		AccessTokenTTL:  l.duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: l.duration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		CodeTTL:         l.duration("CODE_TTL", 15*time.Minute),
		PendingLoginTTL: l.duration("PENDING_LOGIN_TTL", 5*time.Minute),
		CodeMaxAttempts: l.integer("CODE_MAX_ATTEMPTS", 5),

		LoginMaxFailures:     l.integer("LOGIN_MAX_FAILURES", 5),
		LoginLockout:         l.duration("LOGIN_LOCKOUT", 15*time.Minute),
		TwoFactorMaxFailures: l.integer("TWO_FACTOR_MAX_FAILURES", 5),
		TwoFactorLockout:     l.duration("TWO_FACTOR_LOCKOUT", 15*time.Minute),

		RedisURL:        os.Getenv("REDIS_URL"),
		EmailServiceURL: strings.TrimRight(os.Getenv("EMAIL_SERVICE_URL"), "/"),
		NotifyTimeout:   l.duration("NOTIFY_TIMEOUT", 5*time.Second),
		RequestTimeout:  l.duration("REQUEST_TIMEOUT", 10*time.Second),

		LoginRateLimit:  l.integer("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: l.duration("LOGIN_RATE_WINDOW", time.Minute),
		AdminRateLimit:  l.integer("ADMIN_RATE_LIMIT", 30),
		AdminRateWindow: l.duration("ADMIN_RATE_WINDOW", time.Minute),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminUserName: l.str("ADMIN_USERNAME", "admin"),
		TOTPIssuer:    l.str("TOTP_ISSUER", "HomeNavi"),

		GoogleClientID:     strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  strings.TrimSpace(os.Getenv("GOOGLE_REDIRECT_URL")),
	}
	if l.err != nil {
		return nil, l.err
	}

	switch cfg.Store {
	case StorePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	cfg.CodeSalt = os.Getenv("CODE_SALT")
	if cfg.CodeSalt == "" {
		return nil, fmt.Errorf("CODE_SALT environment variable is required")
	}

	if cfg.CodeMaxAttempts < 1 || cfg.LoginRateLimit < 1 || cfg.AdminRateLimit < 1 {
		return nil, fmt.Errorf("CODE_MAX_ATTEMPTS, LOGIN_RATE_LIMIT and ADMIN_RATE_LIMIT must be positive")
	}
	if cfg.LoginMaxFailures < 1 || cfg.TwoFactorMaxFailures < 1 {
		return nil, fmt.Errorf("LOGIN_MAX_FAILURES and TWO_FACTOR_MAX_FAILURES must be positive")
	}

	// one-time codes only go to the log in dev mode
	if !cfg.DevMode && cfg.EmailServiceURL == "" {
		return nil, fmt.Errorf("EMAIL_SERVICE_URL environment variable is required unless DEV_MODE is set")
	}

	if cfg.GoogleClientID != "" && (cfg.GoogleClientSecret == "" || cfg.GoogleRedirectURL == "") {
		return nil, fmt.Errorf("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required with GOOGLE_CLIENT_ID")
	}

	return cfg, nil
}

// DBSummary describes the database target without credentials, for startup logs
func (c *Config) DBSummary() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || c.DatabaseURL == "" {
		return "(unparsable)"
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, strings.TrimPrefix(u.Path, "/"), user)
}

// loader keeps the first parse error so Load can read every key in one pass
type loader struct {
	err error
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) boolean(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, v, err)
	}
	return b
}

func (l *loader) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, v, err)
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err == nil && d <= 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		l.fail(key, v, err)
		return def
	}
	return d
}

func (l *loader) fail(key, value string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
