package handler

import (
	"errors"
	"net/http"

	"github.com/shopguard/shopguard/internal/service"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login performs first-factor authentication. Accounts with two-factor
// enabled get a challenge response instead of a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and password are required")
		return
	}

	cred, userID, err := h.security.Login(r.Context(), req.Email, req.Password, getClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorRequired):
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"twoFactorRequired": true,
				"userId":            userID,
			})
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		case errors.Is(err, service.ErrAccountNotActive):
			writeError(w, http.StatusForbidden, "account_not_active", "This account is not active")
		default:
			h.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, cred)
}

type loginCodeRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// LoginVerifyCode completes a two-factor login with a TOTP code
func (h *Handler) LoginVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req loginCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.UserID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "User ID and code are required")
		return
	}

	cred, err := h.security.CompleteLoginWithCode(r.Context(), req.UserID, req.Code, getClientIP(r))
	if err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cred)
}

type loginRecoveryRequest struct {
	Email        string `json:"email"`
	RecoveryCode string `json:"recoveryCode"`
}

// LoginVerifyRecoveryCode completes a two-factor login with a
// single-use recovery code
func (h *Handler) LoginVerifyRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var req loginRecoveryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Email == "" || req.RecoveryCode == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and recovery code are required")
		return
	}

	cred, err := h.security.CompleteLoginWithRecoveryCode(r.Context(), req.Email, req.RecoveryCode, getClientIP(r))
	if err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cred)
}

// writeTwoFactorError maps two-factor verification errors to responses
func (h *Handler) writeTwoFactorError(w http.ResponseWriter, err error) {
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		writeError(w, http.StatusTooManyRequests, "two_factor_locked", "Too many failed attempts. Please try again later.")
	case errors.Is(err, service.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code", "The verification code is incorrect")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
	case errors.Is(err, service.ErrTwoFactorNotSetUp):
		writeError(w, http.StatusBadRequest, "two_factor_not_set_up", "Two-factor authentication is not set up for this account")
	default:
		h.log.Error().Err(err).Msg("two-factor verification failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Verification failed")
	}
}
