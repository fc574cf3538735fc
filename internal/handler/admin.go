package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopguard/shopguard/internal/middleware"
	"github.com/shopguard/shopguard/internal/model"
	"github.com/shopguard/shopguard/internal/repository"
)

// --- IP blocks ---

type blockIPRequest struct {
	IPAddress string `json:"ipAddress"`
	Reason    string `json:"reason"`
	// DurationHours is omitted for a permanent block
	DurationHours *int `json:"durationHours,omitempty"`
}

// BlockIP blocks an IP address
func (h *Handler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req blockIPRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.IPAddress == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "IP address and reason are required")
		return
	}
	if req.DurationHours != nil && *req.DurationHours <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "Duration must be positive")
		return
	}

	adminID := middleware.GetUserID(r.Context())
	if err := h.security.BlockIP(r.Context(), req.IPAddress, req.Reason, &adminID, req.DurationHours); err != nil {
		h.log.Error().Err(err).Str("ip", req.IPAddress).Msg("failed to block IP")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to block IP")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP has been blocked."})
}

// UnblockIP removes an active IP block
func (h *Handler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "IP address is required")
		return
	}

	adminID := middleware.GetUserID(r.Context())
	if err := h.security.UnblockIP(r.Context(), ip, &adminID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "No active block for this IP")
		default:
			h.log.Error().Err(err).Str("ip", ip).Msg("failed to unblock IP")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to unblock IP")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP has been unblocked."})
}

// ListBlockedIPs returns all active IP blocks
func (h *Handler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.security.ListBlockedIPs(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list blocked IPs")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list blocked IPs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"blocks": entries})
}

// --- Whitelist ---

type whitelistIPRequest struct {
	IPAddress   string `json:"ipAddress"`
	Description string `json:"description"`
}

// WhitelistIP adds an IP to the rate-limit whitelist
func (h *Handler) WhitelistIP(w http.ResponseWriter, r *http.Request) {
	var req whitelistIPRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.IPAddress == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "IP address is required")
		return
	}

	adminID := middleware.GetUserID(r.Context())
	if err := h.security.WhitelistIP(r.Context(), req.IPAddress, req.Description, &adminID); err != nil {
		h.log.Error().Err(err).Str("ip", req.IPAddress).Msg("failed to whitelist IP")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to whitelist IP")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP has been whitelisted."})
}

// RemoveFromWhitelist removes an IP from the whitelist
func (h *Handler) RemoveFromWhitelist(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "IP address is required")
		return
	}

	adminID := middleware.GetUserID(r.Context())
	if err := h.security.RemoveFromWhitelist(r.Context(), ip, &adminID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "IP is not whitelisted")
		default:
			h.log.Error().Err(err).Str("ip", ip).Msg("failed to remove IP from whitelist")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to remove IP from whitelist")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP has been removed from the whitelist."})
}

// ListWhitelistedIPs returns all active whitelist entries
func (h *Handler) ListWhitelistedIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.security.ListWhitelistedIPs(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list whitelisted IPs")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list whitelisted IPs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"whitelist": entries})
}

// --- Rate limits ---

// ResetRateLimit clears rate-limit state for an IP. The optional
// "endpoint" query parameter scopes the reset to a single endpoint.
func (h *Handler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "IP address is required")
		return
	}
	endpoint := r.URL.Query().Get("endpoint")

	adminID := middleware.GetUserID(r.Context())
	if err := h.security.ResetRateLimit(r.Context(), ip, endpoint, &adminID); err != nil {
		h.log.Error().Err(err).Str("ip", ip).Msg("failed to reset rate limit")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to reset rate limit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Rate limit has been reset."})
}

// --- Audit log ---

// QueryAuditLog returns a filtered page of audit entries, newest first
func (h *Handler) QueryAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.AuditLogFilter{
		Actor:     q.Get("actor"),
		Category:  model.AuditCategory(q.Get("category")),
		Action:    q.Get("action"),
		RiskLevel: model.RiskLevel(q.Get("riskLevel")),
		IPAddress: q.Get("ipAddress"),
	}
	if v := q.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "Invalid success filter")
			return
		}
		filter.Success = &success
	}
	var err error
	if filter.StartDate, err = parseTimeParam(q.Get("startDate")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid startDate; use RFC 3339")
		return
	}
	if filter.EndDate, err = parseTimeParam(q.Get("endDate")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid endDate; use RFC 3339")
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	entries, err := h.security.QueryAuditLog(r.Context(), filter, page, pageSize)
	if err != nil {
		h.log.Error().Err(err).Msg("audit log query failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to query audit log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// SecuritySummary aggregates security activity over a period. Defaults
// to the last 24 hours when no range is given.
func (h *Handler) SecuritySummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if t, err := parseTimeParam(q.Get("startDate")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid startDate; use RFC 3339")
		return
	} else if t != nil {
		start = *t
	}
	if t, err := parseTimeParam(q.Get("endDate")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid endDate; use RFC 3339")
		return
	} else if t != nil {
		end = *t
	}

	summary, err := h.security.SecuritySummary(r.Context(), start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("security summary failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to build security summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
