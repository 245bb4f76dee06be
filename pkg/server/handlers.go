package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"codecoach-hq/saturn/pkg/quota"
)

// Request and response bodies for the admission API. Field names follow the
// result shapes callers consume to produce their own 429/403 messaging.

type checkCapabilityRequest struct {
	UserID     string `json:"user_id"`
	Capability string `json:"capability"`
}

type checkCapabilityResponse struct {
	Allowed   bool `json:"allowed"`
	Unlimited bool `json:"unlimited,omitempty"`
	Limit     int  `json:"limit,omitempty"`
	Usage     int  `json:"usage,omitempty"`
}

type checkLineCountRequest struct {
	UserID    string `json:"user_id"`
	LineCount int    `json:"line_count"`
}

type checkLineCountResponse struct {
	Allowed bool `json:"allowed"`
	Limit   int  `json:"limit"`
}

type checkRateLimitRequest struct {
	UserID string `json:"user_id"`
}

type checkRateLimitResponse struct {
	Allowed   bool   `json:"allowed"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     string `json:"reset,omitempty"`
}

type recordUsageRequest struct {
	UserID     string `json:"user_id"`
	Capability string `json:"capability"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCheckCapability(w http.ResponseWriter, r *http.Request) {
	var req checkCapabilityRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, "user_id and capability are required")
		return
	}

	result, err := s.manager.CheckCapability(r.Context(), req.UserID, quota.Capability(req.Capability))
	if err != nil {
		s.writeCheckError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkCapabilityResponse{
		Allowed:   result.Allowed,
		Unlimited: result.Unlimited,
		Limit:     result.Limit,
		Usage:     result.Usage,
	})
}

func (s *Server) handleCheckLineCount(w http.ResponseWriter, r *http.Request) {
	var req checkLineCountRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" || req.LineCount < 0 {
		writeError(w, http.StatusBadRequest, "user_id and a non-negative line_count are required")
		return
	}

	result, err := s.manager.CheckLineCount(r.Context(), req.UserID, req.LineCount)
	if err != nil {
		s.writeCheckError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkLineCountResponse{
		Allowed: result.Allowed,
		Limit:   result.Limit,
	})
}

func (s *Server) handleCheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req checkRateLimitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := s.manager.CheckRateLimit(r.Context(), req.UserID)
	if err != nil {
		s.writeCheckError(w, err)
		return
	}

	setRateLimitHeaders(w, result)

	resp := checkRateLimitResponse{
		Allowed:   result.Allowed,
		Limit:     result.Limit,
		Remaining: result.Remaining,
	}
	if !result.Reset.IsZero() {
		resp.Reset = result.Reset.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, "user_id and capability are required")
		return
	}

	err := s.manager.RecordUsage(r.Context(), req.UserID, quota.Capability(req.Capability))
	if err != nil {
		if errors.Is(err, quota.ErrUnknownCapability) {
			writeError(w, http.StatusBadRequest, "unknown capability")
			return
		}
		s.writeCheckError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeCheckError maps admission errors to HTTP statuses. Callers treat
// any error status as a denial.
func (s *Server) writeCheckError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quota.ErrUserNotResolved):
		writeError(w, http.StatusNotFound, "user plan could not be resolved")
	case errors.Is(err, quota.ErrUnknownCapability):
		writeError(w, http.StatusBadRequest, "unknown capability")
	default:
		s.logger.Error("admission check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "admission check unavailable")
	}
}

// setRateLimitHeaders stamps the standard X-RateLimit headers.
func setRateLimitHeaders(w http.ResponseWriter, result *quota.RateLimitResult) {
	if result.Limit == quota.Unlimited {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
