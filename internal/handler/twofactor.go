package handler

import (
	"errors"
	"net/http"

	"github.com/shopguard/shopguard/internal/middleware"
	"github.com/shopguard/shopguard/internal/service"
)

// --- Setup ---

// TwoFactorSetup initiates two-factor enrollment for the authenticated user
func (h *Handler) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	resp, err := h.security.Setup2FA(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
			writeError(w, http.StatusConflict, "two_factor_already_enabled", "Two-factor authentication is already enabled")
		default:
			h.log.Error().Err(err).Msg("two-factor setup failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to set up two-factor authentication")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Enable ---

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

// TwoFactorEnable completes enrollment with a valid code
func (h *Handler) TwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req twoFactorCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Code is required")
		return
	}

	if err := h.security.Enable2FA(r.Context(), userID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
			writeError(w, http.StatusConflict, "two_factor_already_enabled", "Two-factor authentication is already enabled")
		default:
			h.writeTwoFactorError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication has been enabled."})
}

// --- Disable ---

type twoFactorDisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// TwoFactorDisable removes two-factor after re-proving password and code
func (h *Handler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req twoFactorDisableRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Password == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Password and code are required")
		return
	}

	if err := h.security.Disable2FA(r.Context(), userID, req.Code, req.Password); err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication has been disabled."})
}

// --- Verify ---

// TwoFactorVerify validates a TOTP code for the authenticated user
func (h *Handler) TwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req twoFactorCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Code is required")
		return
	}

	if err := h.security.VerifyTotp(r.Context(), userID, req.Code); err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Code verified."})
}

// --- Recovery codes ---

// TwoFactorRegenerateRecoveryCodes replaces the recovery-code set
func (h *Handler) TwoFactorRegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req twoFactorCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Code is required")
		return
	}

	codes, err := h.security.RegenerateRecoveryCodes(r.Context(), userID, req.Code)
	if err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"recoveryCodes": codes})
}

// --- Status ---

// TwoFactorStatus reports the authenticated user's two-factor state
func (h *Handler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	status, err := h.security.TwoFactorStatus(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get two-factor status")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get two-factor status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
