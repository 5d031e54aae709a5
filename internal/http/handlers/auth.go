package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/middleware"
	"github.com/homenavi/auth-service/internal/model"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	devMode     bool
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler. In dev mode issued codes are echoed as dev_code
// and the access cookie is not marked Secure.
func NewAuthHandler(authService *auth.AuthService, devMode bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, devMode: devMode, logger: logger}
}

// userResponse is the user object in API responses
type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	UserName      string    `json:"user_name"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	Locked        bool      `json:"locked"`
	TwoFactorType string    `json:"2fa_type"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		UserName:      u.UserName,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		Locked:        u.Locked,
		TwoFactorType: string(u.TwoFactorMethod),
		CreatedAt:     u.CreatedAt,
	}
}

// tokenResponse is the JSON response for a completed login or refresh
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	User         *userResponse `json:"user,omitempty"`
}

// messageResponse acknowledges an action; DevCode is only set in dev mode
type messageResponse struct {
	Message string `json:"message"`
	DevCode string `json:"dev_code,omitempty"`
}

func (h *AuthHandler) ack(w http.ResponseWriter, message, code string) {
	resp := messageResponse{Message: message}
	if h.devMode {
		resp.DevCode = code
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) respondTokens(w http.ResponseWriter, pair auth.TokenPair, user *model.User) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.ExpiresIn.Seconds()),
		HttpOnly: true,
		Secure:   !h.devMode,
		SameSite: http.SameSiteLaxMode,
	})
	resp := tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	}
	if user != nil {
		u := toUserResponse(*user)
		resp.User = &u
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

func parseID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	return id, err == nil
}

type signupRequest struct {
	UserName  string `json:"user_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// HandleSignup handles POST /signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.authService.Signup(r.Context(), auth.SignupRequest(req))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserResponse(user))
}

type userIDRequest struct {
	UserID string `json:"user_id"`
}

// HandleEmailVerifyRequest handles POST /email/verify/request
func (h *AuthHandler) HandleEmailVerifyRequest(w http.ResponseWriter, r *http.Request) {
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := parseID(req.UserID)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	code, err := h.authService.RequestEmailVerification(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "verification code sent", code)
}

type codeRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// HandleEmailVerifyConfirm handles POST /email/verify/confirm
func (h *AuthHandler) HandleEmailVerifyConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := parseID(req.UserID)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.authService.ConfirmEmailVerification(r.Context(), id, strings.TrimSpace(req.Code)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "email verified", "")
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// HandlePasswordResetRequest handles POST /password/reset/request. It answers 200 for unknown emails too.
func (h *AuthHandler) HandlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}
	code, err := h.authService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "if the account exists, a reset code has been sent", code)
}

// HandlePasswordResetConfirm handles POST /password/reset/confirm
func (h *AuthHandler) HandlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.authService.ConfirmPasswordReset(r.Context(), req.Email, strings.TrimSpace(req.Code), req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "password updated", "")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// HandlePasswordChange handles POST /password/change (protected)
func (h *AuthHandler) HandlePasswordChange(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.authService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "password updated", "")
}

type loginStartRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// secondFactorResponse is returned by login/start when a second factor must follow
type secondFactorResponse struct {
	TwoFactorRequired bool   `json:"2fa_required"`
	TwoFactorType     string `json:"2fa_type"`
	UserID            string `json:"user_id"`
	PendingID         string `json:"pending_id"`
	DevCode           string `json:"dev_code,omitempty"`
}

// HandleLoginStart handles POST /login/start
func (h *AuthHandler) HandleLoginStart(w http.ResponseWriter, r *http.Request) {
	var req loginStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	out, err := h.authService.LoginStart(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.respondOutcome(w, out)
}

// respondOutcome answers with tokens or with the second-factor challenge
func (h *AuthHandler) respondOutcome(w http.ResponseWriter, out auth.LoginOutcome) {
	switch o := out.(type) {
	case auth.TokensIssued:
		h.respondTokens(w, o.Tokens, &o.User)
	case auth.SecondFactorRequired:
		resp := secondFactorResponse{
			TwoFactorRequired: true,
			TwoFactorType:     string(o.Method),
			UserID:            o.UserID.String(),
			PendingID:         o.PendingID.String(),
		}
		if h.devMode {
			resp.DevCode = o.IssuedCode
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

type loginFinishRequest struct {
	PendingID string `json:"pending_id"`
	UserID    string `json:"user_id"`
	Code      string `json:"code"`
}

func (req loginFinishRequest) ids() (pendingID, userID uuid.UUID, ok bool) {
	if req.PendingID != "" {
		if pendingID, ok = parseID(req.PendingID); !ok {
			return uuid.Nil, uuid.Nil, false
		}
	}
	if req.UserID != "" {
		if userID, ok = parseID(req.UserID); !ok {
			return uuid.Nil, uuid.Nil, false
		}
	}
	return pendingID, userID, pendingID != uuid.Nil || userID != uuid.Nil
}

// HandleLoginFinish handles POST /login/finish. Every second-factor failure is a 401.
func (h *AuthHandler) HandleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req loginFinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pendingID, userID, ok := req.ids()
	if !ok || strings.TrimSpace(req.Code) == "" {
		respondWithError(w, http.StatusBadRequest, "pending_id or user_id, and code are required")
		return
	}

	issued, err := h.authService.LoginFinish(r.Context(), auth.FinishRequest{
		PendingID: pendingID,
		UserID:    userID,
		Code:      strings.TrimSpace(req.Code),
	})
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, auth.ErrCodeInvalid) || errors.Is(err, auth.ErrTwoFactorNotEnabled) {
			status = http.StatusUnauthorized
		}
		writeErrorStatus(w, r, h.logger, err, status)
		return
	}
	h.respondTokens(w, issued.Tokens, &issued.User)
}

// HandleLoginCodeResend handles POST /2fa/email/request: a new code for a pending email login
func (h *AuthHandler) HandleLoginCodeResend(w http.ResponseWriter, r *http.Request) {
	var req loginFinishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pendingID, userID, ok := req.ids()
	if !ok {
		respondWithError(w, http.StatusBadRequest, "pending_id or user_id is required")
		return
	}
	code, err := h.authService.ResendLoginCode(r.Context(), pendingID, userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "2fa code sent", code)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh handles POST /refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := h.authService.Tokens().Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.respondTokens(w, pair, nil)
}

// HandleLogout handles POST /logout (protected). The token must belong to the caller.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	if err := h.authService.Tokens().Logout(r.Context(), req.RefreshToken, user.ID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.devMode,
		SameSite: http.SameSiteLaxMode,
	})
	h.ack(w, "logged out", "")
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(*user))
}
