package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcap/internal/messages"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers to responses and records request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
		// Cache preflight results for a day to reduce OPTIONS traffic
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		// Label by route pattern so session ids do not explode cardinality.
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, http.StatusText(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())
	}
}

// allow enforces the rate limit for the requesting client. It writes the
// error response and reports false when the request is refused.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.rateLimiter == nil {
		return true
	}
	err := s.rateLimiter.Allow(getClientIP(r))
	if err == nil {
		return true
	}
	var e *RateLimitError
	var e1 *QuotaExceededError
	switch {
	case errors.As(err, &e):
		rateLimitHits.WithLabelValues(e.Type).Inc()
	case errors.As(err, &e1):
		rateLimitHits.WithLabelValues(e1.Type).Inc()
	}
	s.handleRateLimitError(w, err)
	return false
}

// RateLimitResponse is returned with 429 when a client exceeds a limit.
type RateLimitResponse struct {
	Error      string  `json:"error"`
	Type       string  `json:"type"`
	Limit      int64   `json:"limit"`
	Used       int64   `json:"used,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
	Resets     string  `json:"resets,omitempty"`
	Message    string  `json:"message"`
}

// handleRateLimitError writes the 429 answer for a refused request.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	var e *RateLimitError
	var e1 *QuotaExceededError
	switch {
	case errors.As(err, &e):
		w.Header().Set("X-RateLimit-Type", e.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(e.Limit))
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", e.RetryAfter.Seconds()))
		s.writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
			Error:      "rate_limit_exceeded",
			Type:       e.Type,
			Limit:      int64(e.Limit),
			RetryAfter: e.RetryAfter.Seconds(),
			Message:    e.Error(),
		})
	case errors.As(err, &e1):
		w.Header().Set("X-Quota-Type", e1.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(e1.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(e1.Used, 10))
		w.Header().Set("X-Quota-Resets", e1.Resets.UTC().Format(http.TimeFormat))
		s.writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
			Error:   "quota_exceeded",
			Type:    e1.Type,
			Limit:   e1.Limit,
			Used:    e1.Used,
			Resets:  e1.Resets.Format(time.RFC3339),
			Message: e1.Error(),
		})
	default:
		s.writeErrorResponse(w, "internal_error", "rate limiting check failed", http.StatusInternalServerError)
	}
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, the first is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// printer picks the response language: the lang query parameter, then
// Accept-Language, then the configured default.
func (s *Server) printer(r *http.Request) *messages.Printer {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return messages.NewPrinter(messages.Match(lang))
	}
	if al := r.Header.Get("Accept-Language"); al != "" {
		return messages.NewPrinter(messages.Match(al))
	}
	return messages.NewPrinter(messages.Match(s.language))
}

// writeJSON writes v with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, code, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}
