package handlers

import (
	"net/http"
	"strings"
)

// HandleEmail2FAEnableRequest handles POST /2fa/email/enable/request (protected)
func (h *AuthHandler) HandleEmail2FAEnableRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	code, err := h.authService.RequestEmailTwoFactor(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "2fa setup code sent", code)
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

// HandleEmail2FAEnableConfirm handles POST /2fa/email/enable/confirm (protected)
func (h *AuthHandler) HandleEmail2FAEnableConfirm(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req twoFactorCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.authService.ConfirmEmailTwoFactor(r.Context(), user.ID, strings.TrimSpace(req.Code)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "email 2fa enabled", "")
}

type totpSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// HandleTOTPSetup handles POST /2fa/totp/setup (protected)
func (h *AuthHandler) HandleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	setup, err := h.authService.SetupTOTP(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, totpSetupResponse{Secret: setup.Secret, OTPAuthURL: setup.URL})
}

// HandleTOTPVerify handles POST /2fa/totp/verify (protected)
func (h *AuthHandler) HandleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req twoFactorCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.authService.VerifyTOTP(r.Context(), user.ID, strings.TrimSpace(req.Code)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "totp 2fa enabled", "")
}

type disableRequest struct {
	Password string `json:"password"`
}

// HandleDisable2FA handles POST /2fa/disable (protected)
func (h *AuthHandler) HandleDisable2FA(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req disableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.authService.DisableTwoFactor(r.Context(), user.ID, req.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ack(w, "2fa disabled", "")
}
