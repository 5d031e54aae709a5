package http

import (
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/http/handlers"
	"github.com/homenavi/auth-service/internal/metrics"
	"github.com/homenavi/auth-service/internal/middleware"
	"github.com/homenavi/auth-service/internal/repo"
)

// Deps are the collaborators the router wires together
type Deps struct {
	Auth           *handlers.AuthHandler
	OAuth          *handlers.OAuthHandler
	Users          *handlers.UsersHandler
	Tokens         middleware.AccessValidator
	UserRepo       repo.UserRepo
	LoginLimiter   middleware.Limiter
	AdminLimiter   middleware.Limiter
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger, d.Metrics))
	r.Use(chimw.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{nethttp.MethodGet, nethttp.MethodPost, nethttp.MethodPatch, nethttp.MethodDelete, nethttp.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)
	r.Handle("/metrics", d.Metrics.Handler())

	loginLimit := middleware.RateLimitMiddleware(d.LoginLimiter, "login", middleware.GetIPKey, d.Logger, d.Metrics)
	adminLimit := middleware.RateLimitMiddleware(d.AdminLimiter, "admin", middleware.GetIPKey, d.Logger, d.Metrics)
	requireAuth := middleware.AuthMiddleware(d.Tokens, d.UserRepo, d.Logger)

	// Public credential endpoints share the login limiter
	r.Group(func(r chi.Router) {
		r.Use(loginLimit)
		r.Post("/signup", d.Auth.HandleSignup)
		r.Post("/login/start", d.Auth.HandleLoginStart)
		r.Post("/login/finish", d.Auth.HandleLoginFinish)
		r.Post("/2fa/email/request", d.Auth.HandleLoginCodeResend)
		r.Post("/email/verify/request", d.Auth.HandleEmailVerifyRequest)
		r.Post("/email/verify/confirm", d.Auth.HandleEmailVerifyConfirm)
		r.Post("/password/reset/request", d.Auth.HandlePasswordResetRequest)
		r.Post("/password/reset/confirm", d.Auth.HandlePasswordResetConfirm)
		if d.OAuth != nil {
			r.Get("/oauth/google/login", d.OAuth.HandleGoogleLogin)
			r.Post("/oauth/google", d.OAuth.HandleGoogle)
		}
	})

	r.Post("/refresh", d.Auth.HandleRefresh)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", d.Auth.HandleMe)
		r.Post("/logout", d.Auth.HandleLogout)
		r.Post("/password/change", d.Auth.HandlePasswordChange)

		r.Post("/2fa/email/enable/request", d.Auth.HandleEmail2FAEnableRequest)
		r.Post("/2fa/email/enable/confirm", d.Auth.HandleEmail2FAEnableConfirm)
		r.Post("/2fa/totp/setup", d.Auth.HandleTOTPSetup)
		r.Post("/2fa/totp/verify", d.Auth.HandleTOTPVerify)
		r.Post("/2fa/disable", d.Auth.HandleDisable2FA)

		r.Route("/users", func(r chi.Router) {
			r.Use(adminLimit)
			r.Get("/", d.Users.HandleList)
			r.Get("/{id}", d.Users.HandleGet)
			r.Patch("/{id}", d.Users.HandlePatch)
			r.Delete("/{id}", d.Users.HandleDelete)
			r.Post("/{id}/lockout", d.Users.HandleLockout)
		})
	})

	return r
}
