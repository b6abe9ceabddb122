package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flextraff/atcs-core/internal/auth"
)

// Error is the body of every error response, wrapped as {"error": {...}}.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

// Error codes. Clients branch on these, not on messages.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeValidation         = "validation_error"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeTokenTypeMismatch  = "token_type_mismatch"
	ErrCodeSubjectInactive    = "subject_inactive"
	ErrCodeSessionNotFound    = "session_not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInvalidRole        = "invalid_role"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
	ErrCodeUnavailable        = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classifyError maps an auth error onto a status, code and client-safe
// message. Token failures report the sentinel text only, so parser details
// never reach the client. Anything unrecognised is a 500.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrCodeInvalidCredentials, auth.ErrInvalidCredentials.Error()
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, ErrCodeTokenExpired, auth.ErrTokenExpired.Error()
	case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrTokenBadSignature):
		return http.StatusUnauthorized, ErrCodeInvalidToken, "invalid token"
	case errors.Is(err, auth.ErrTokenTypeMismatch):
		return http.StatusUnauthorized, ErrCodeTokenTypeMismatch, auth.ErrTokenTypeMismatch.Error()
	case errors.Is(err, auth.ErrSubjectInactive):
		return http.StatusUnauthorized, ErrCodeSubjectInactive, auth.ErrSubjectInactive.Error()
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusUnauthorized, ErrCodeSessionNotFound, auth.ErrSessionNotFound.Error()
	case errors.Is(err, auth.ErrAccessDenied):
		return http.StatusForbidden, ErrCodeForbidden, err.Error()
	case errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest, ErrCodeInvalidRole, err.Error()
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrGrantNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, auth.ErrUsernameExists):
		return http.StatusConflict, ErrCodeConflict, err.Error()
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
	}
}

// writeServiceError writes the response for an error returned by the auth
// service. Server-side failures are logged with their cause.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
	}
	writeError(w, status, code, message)
}

// writeDecodeError reports a request body that could not be decoded. Role
// names are validated during decoding, so an unknown role surfaces here.
func (s *Server) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrInvalidRole) {
		s.writeServiceError(w, r, err)
		return
	}
	writeBadRequest(w, "invalid JSON body")
}
