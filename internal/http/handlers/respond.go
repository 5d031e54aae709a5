package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/authz"
	"github.com/homenavi/auth-service/internal/middleware"
	"github.com/homenavi/auth-service/internal/repo"
)

const maxBodyBytes = 1 << 20

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case auth.IsValidation(err),
		errors.Is(err, auth.ErrCodeInvalid),
		errors.Is(err, auth.ErrTwoFactorEnabled),
		errors.Is(err, auth.ErrTwoFactorNotEnabled),
		errors.Is(err, auth.ErrTOTPNotSetUp):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrPendingExpired),
		errors.Is(err, auth.ErrRefreshInvalid),
		errors.Is(err, auth.ErrRefreshExpired),
		errors.Is(err, auth.ErrRefreshRevoked),
		errors.Is(err, auth.ErrRefreshTokenReuseDetected),
		errors.Is(err, auth.ErrAccessInvalid),
		errors.Is(err, auth.ErrAccessExpired):
		return http.StatusUnauthorized
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrDuplicateEmail), errors.Is(err, repo.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// messageFor returns the client-facing text. Code and refresh failures collapse into one message each.
func messageFor(err error, status int) string {
	switch {
	case status == http.StatusInternalServerError:
		return "internal server error"
	case errors.Is(err, auth.ErrCodeInvalid):
		return auth.ErrCodeInvalid.Error()
	case errors.Is(err, auth.ErrRefreshTokenReuseDetected):
		return auth.ErrRefreshTokenReuseDetected.Error()
	case errors.Is(err, auth.ErrRefreshInvalid),
		errors.Is(err, auth.ErrRefreshExpired),
		errors.Is(err, auth.ErrRefreshRevoked):
		return "invalid or expired refresh token"
	case errors.Is(err, repo.ErrNotFound):
		return "user not found"
	}
	return err.Error()
}

// writeError answers with the mapped status. Unexpected errors are logged, never echoed.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	writeErrorStatus(w, r, logger, err, statusFor(err))
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, status int) {
	switch status {
	case http.StatusLocked:
		var lerr *auth.LockoutError
		if errors.As(err, &lerr) {
			respondLockout(w, lerr)
			return
		}
		middleware.RespondLocked(w)
		return
	case http.StatusInternalServerError:
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, status, map[string]any{"error": verr.Error(), "field": verr.Field, "problems": verr.Problems})
		return
	}
	respondWithError(w, status, messageFor(err, status))
}

// respondLockout reports a temporary lock with the seconds left and the unix time it lifts
func respondLockout(w http.ResponseWriter, lerr *auth.LockoutError) {
	remaining := int64(math.Ceil(lerr.Remaining.Seconds()))
	w.Header().Set("Retry-After", strconv.FormatInt(remaining, 10))
	respondJSON(w, http.StatusLocked, map[string]any{
		"error":             "account locked",
		"reason":            lerr.Reason,
		"lockout_remaining": remaining,
		"unlock_at":         lerr.UnlockAt.Unix(),
	})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a bounded JSON body into v, answering 400 itself on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
