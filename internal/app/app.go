// Package app assembles the service from configuration: stores, token and code engines,
// limiters, handlers and the router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/config"
	httphandler "github.com/homenavi/auth-service/internal/http"
	"github.com/homenavi/auth-service/internal/http/handlers"
	"github.com/homenavi/auth-service/internal/lockout"
	"github.com/homenavi/auth-service/internal/metrics"
	"github.com/homenavi/auth-service/internal/middleware"
	"github.com/homenavi/auth-service/internal/notify"
	"github.com/homenavi/auth-service/internal/oauth"
	"github.com/homenavi/auth-service/internal/repo"
	"github.com/homenavi/auth-service/internal/repo/memrepo"
	"github.com/homenavi/auth-service/internal/users"
)

// Stores groups the four repositories the service needs
type Stores struct {
	Users   repo.UserRepo
	Codes   repo.CodeRepo
	Pending repo.PendingLoginRepo
	Refresh repo.RefreshRepo
}

// PostgresStores returns the database/sql implementations
func PostgresStores(db *sql.DB) Stores {
	return Stores{
		Users:   repo.NewUserRepo(db),
		Codes:   repo.NewCodeRepo(db),
		Pending: repo.NewPendingLoginRepo(db),
		Refresh: repo.NewRefreshRepo(db),
	}
}

// MemoryStores returns the in-process implementations backed by s
func MemoryStores(s *memrepo.Store) Stores {
	return Stores{
		Users:   s.Users(),
		Codes:   s.Codes(),
		Pending: s.PendingLogins(),
		Refresh: s.RefreshSessions(),
	}
}

// Options override collaborators; zero values select the configured defaults
type Options struct {
	Sender       notify.Sender
	Argon2       *auth.Argon2Params
	LoginLimiter middleware.Limiter
	AdminLimiter middleware.Limiter
	Google       *oauth.Google
}

// App is the assembled service
type App struct {
	Router  http.Handler
	Auth    *auth.AuthService
	Metrics *metrics.Metrics

	closers []func() error
}

// New wires every component from cfg
func New(cfg *config.Config, stores Stores, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Metrics: metrics.New()}

	params := auth.DefaultArgon2Params
	if opts.Argon2 != nil {
		params = *opts.Argon2
	}
	hasher, err := auth.NewArgon2Hasher(params)
	if err != nil {
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		if sender, err = newSender(cfg, logger); err != nil {
			return nil, err
		}
	}

	rdb, err := a.redisClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	codes := auth.NewCodeEngine(stores.Codes, sender, auth.CodeEngineConfig{
		Salt:        cfg.CodeSalt,
		TTL:         cfg.CodeTTL,
		MaxAttempts: cfg.CodeMaxAttempts,
	}, logger, a.Metrics)
	tokens := auth.NewTokenIssuer(jwtService, stores.Refresh, stores.Users, cfg.RefreshTokenTTL, logger, a.Metrics)
	a.Auth, err = auth.NewAuthService(stores.Users, stores.Pending, codes, tokens, hasher, a.newLockouts(cfg, rdb), auth.ServiceConfig{
		PendingLoginTTL: cfg.PendingLoginTTL,
		TOTPIssuer:      cfg.TOTPIssuer,
	}, logger, a.Metrics)
	if err != nil {
		return nil, err
	}

	loginLimiter, adminLimiter := opts.LoginLimiter, opts.AdminLimiter
	if loginLimiter == nil || adminLimiter == nil {
		l, ad := a.newLimiters(cfg, rdb, logger)
		if loginLimiter == nil {
			loginLimiter = l
		}
		if adminLimiter == nil {
			adminLimiter = ad
		}
	}

	authHandler := handlers.NewAuthHandler(a.Auth, cfg.DevMode, logger)
	var oauthHandler *handlers.OAuthHandler
	if google := newGoogle(cfg, opts.Google); google != nil {
		oauthHandler = handlers.NewOAuthHandler(authHandler, google, logger)
		logger.Info("google sign-in enabled", zap.String("redirect_url", google.RedirectURL()))
	}

	a.Router = httphandler.NewRouter(httphandler.Deps{
		Auth:           authHandler,
		OAuth:          oauthHandler,
		Users:          handlers.NewUsersHandler(users.NewService(stores.Users, tokens, logger), logger),
		Tokens:         tokens,
		UserRepo:       stores.Users,
		LoginLimiter:   loginLimiter,
		AdminLimiter:   adminLimiter,
		Logger:         logger,
		Metrics:        a.Metrics,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})
	return a, nil
}

// newSender delivers through the email service. Codes only go to the log in dev mode.
func newSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	if cfg.EmailServiceURL != "" {
		return notify.NewHTTPSender(cfg.EmailServiceURL, cfg.NotifyTimeout), nil
	}
	if !cfg.DevMode {
		return nil, errors.New("EMAIL_SERVICE_URL is required outside dev mode")
	}
	logger.Warn("EMAIL_SERVICE_URL not set; one-time codes are written to the log")
	return notify.NewLogSender(logger), nil
}

// redisClient connects to REDIS_URL, or returns nil when it is unset
func (a *App) redisClient(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	a.closers = append(a.closers, client.Close)
	logger.Info("redis backend", zap.String("addr", opt.Addr))
	return client, nil
}

// newLimiters uses Redis when a client is configured and the in-memory window otherwise
func (a *App) newLimiters(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (middleware.Limiter, middleware.Limiter) {
	if rdb != nil {
		logger.Info("rate limiter backend", zap.String("backend", "redis"))
		return middleware.NewRedisLimiter(rdb, "ratelimit", cfg.LoginRateWindow, cfg.LoginRateLimit),
			middleware.NewRedisLimiter(rdb, "ratelimit", cfg.AdminRateWindow, cfg.AdminRateLimit)
	}
	login := middleware.NewRateLimiter(cfg.LoginRateWindow, cfg.LoginRateLimit)
	admin := middleware.NewRateLimiter(cfg.AdminRateWindow, cfg.AdminRateLimit)
	a.closers = append(a.closers,
		func() error { login.Close(); return nil },
		func() error { admin.Close(); return nil },
	)
	logger.Info("rate limiter backend", zap.String("backend", "memory"))
	return login, admin
}

// newLockouts keeps failure counts in Redis when configured so every replica sees them
func (a *App) newLockouts(cfg *config.Config, rdb *redis.Client) auth.Lockouts {
	loginPolicy := lockout.Policy{MaxFailures: cfg.LoginMaxFailures, Lockout: cfg.LoginLockout}
	twoFAPolicy := lockout.Policy{MaxFailures: cfg.TwoFactorMaxFailures, Lockout: cfg.TwoFactorLockout}
	if rdb != nil {
		return auth.Lockouts{
			Login:     lockout.NewRedis(rdb, "lockout", loginPolicy),
			TwoFactor: lockout.NewRedis(rdb, "lockout", twoFAPolicy),
		}
	}
	login := lockout.NewMemory(loginPolicy, nil)
	twoFA := lockout.NewMemory(twoFAPolicy, nil)
	a.closers = append(a.closers,
		func() error { login.Close(); return nil },
		func() error { twoFA.Close(); return nil },
	)
	return auth.Lockouts{Login: login, TwoFactor: twoFA}
}

// newGoogle returns the override, the configured provider, or nil when Google sign-in is off
func newGoogle(cfg *config.Config, override *oauth.Google) *oauth.Google {
	if override != nil {
		return override
	}
	if cfg.GoogleClientID == "" {
		return nil
	}
	return oauth.NewGoogle(oauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Timeout:      cfg.NotifyTimeout,
	})
}

// SeedAdmin creates the configured first-boot admin, if any
func (a *App) SeedAdmin(ctx context.Context, cfg *config.Config) error {
	return a.Auth.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminUserName)
}

// Close releases limiter, lockout and Redis resources
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
