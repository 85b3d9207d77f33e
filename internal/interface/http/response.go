package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Count     int       `json:"count,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// retryAfterSeconds is sent with responses the client may simply retry.
const retryAfterSeconds = 1

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSONWithMeta(w, r, status, data, nil)
}

func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusForCode maps stable domain error codes to HTTP statuses.
var statusForCode = map[string]int{
	"NOT_FOUND":         http.StatusNotFound,
	"REQUEST_NOT_FOUND": http.StatusNotFound,
	"BELT_NOT_FOUND":    http.StatusNotFound,
	"STALE_INELIGIBLE":  http.StatusConflict,
	"ALREADY_PENDING":   http.StatusConflict,
	"REQUEST_DECIDED":   http.StatusConflict,
	"ALREADY_ENROLLED":  http.StatusConflict,
	"INVALID_TARGET":    http.StatusUnprocessableEntity,
	"NOT_ELIGIBLE":      http.StatusUnprocessableEntity,
	"INVALID_DEGREE":    http.StatusUnprocessableEntity,
	"BUSY":              http.StatusLocked,
	"UNAUTHORIZED":      http.StatusForbidden,
}

// errorResponse classifies err into status, code and client-facing message.
func errorResponse(err error) (status int, code, message string) {
	if c := shared.Code(err); c != "" {
		if st, ok := statusForCode[c]; ok {
			return st, strings.ToLower(c), clientMessage(err)
		}
	}

	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found", clientMessage(err)
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error", clientMessage(err)
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized", clientMessage(err)
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict", clientMessage(err)
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, "service_unavailable", "a dependency is unavailable, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "an unexpected error occurred"
	}
}

// clientMessage is the most specific DomainError message, without the op chain.
func clientMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorResponse(err)

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
	} else {
		log.Debug("request rejected", logger.String("path", r.URL.Path), logger.String("code", code), logger.Err(err))
	}

	if status == http.StatusLocked || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSONError(w, r, status, code, message)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeJSON decodes an optional JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return shared.WrapError("http", "Decode", shared.ErrInvalidInput, "invalid request body: "+err.Error(), nil)
	}
	return nil
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidInput, key+" must be an integer", nil)
	}
	return n, nil
}

func getQueryParamBool(r *http.Request, key string) bool {
	value := strings.ToLower(r.URL.Query().Get(key))
	return value == "true" || value == "1" || value == "yes"
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, shared.WrapError("http", "Decode", shared.ErrInvalidInput, field+" must be a date (YYYY-MM-DD) or RFC 3339 timestamp", nil)
}
