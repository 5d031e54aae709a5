package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/oauth"
)

const oauthStateCookie = "oauth_state"

// IdentityProvider turns an authorization code into a verified identity
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.ExternalIdentity, error)
}

// OAuthHandler handles the Google sign-in endpoints
type OAuthHandler struct {
	auth     *AuthHandler
	provider IdentityProvider
	logger   *zap.Logger
}

// NewOAuthHandler creates a handler answering logins the same way AuthHandler does
func NewOAuthHandler(a *AuthHandler, provider IdentityProvider, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{auth: a, provider: provider, logger: logger}
}

func (h *OAuthHandler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/oauth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.auth.devMode,
		SameSite: http.SameSiteLaxMode,
	}
}

// HandleGoogleLogin handles GET /oauth/google/login: pins a state in a cookie and redirects to Google
func (h *OAuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := oauth.NewState()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	http.SetCookie(w, h.stateCookie(state, 600))
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

type googleLoginRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// HandleGoogle handles POST /oauth/google with the code and state Google sent back to the frontend
func (h *OAuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}

	var want string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		want = c.Value
	}
	// single use, whatever the outcome
	http.SetCookie(w, h.stateCookie("", -1))
	if !oauth.StateMatches(req.State, want) {
		respondWithError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}

	id, err := h.provider.Exchange(r.Context(), req.Code)
	if err != nil {
		h.logger.Warn("google code exchange failed", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "failed to exchange OAuth code")
		return
	}

	out, err := h.auth.authService.LoginWithIdentity(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.auth.respondOutcome(w, out)
}
