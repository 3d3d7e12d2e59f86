// Package problem writes RFC 7807 application/problem+json responses, the
// error envelope used by every API handler.
package problem

import (
	"encoding/json"
	"net/http"
)

const (
	TypeValidation     = "https://fleetpay.mutare.dev/problems/validation-error"
	TypeUnauthorized   = "https://fleetpay.mutare.dev/problems/unauthorized"
	TypeForbidden      = "https://fleetpay.mutare.dev/problems/forbidden"
	TypeNotFound       = "https://fleetpay.mutare.dev/problems/not-found"
	TypeConflict       = "https://fleetpay.mutare.dev/problems/conflict"
	TypeRateLimited    = "https://fleetpay.mutare.dev/problems/rate-limited"
	TypeSessionLimit   = "https://fleetpay.mutare.dev/problems/session-limit"
	TypeReplay         = "https://fleetpay.mutare.dev/problems/replay-detected"
	TypeAmountMismatch = "https://fleetpay.mutare.dev/problems/amount-mismatch"
	TypeUpstream       = "https://fleetpay.mutare.dev/problems/upstream-error"
	TypeInternal       = "https://fleetpay.mutare.dev/problems/internal-error"
)

// Details is the RFC 7807 body, extended with per-field validation errors.
type Details struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

// Write serializes the details with the matching status code.
func Write(w http.ResponseWriter, details Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(details.Status)
	_ = json.NewEncoder(w).Encode(details)
}

// New builds a Details value.
func New(problemType, title string, status int, detail string) Details {
	return Details{Type: problemType, Title: title, Status: status, Detail: detail}
}

// Validation is the 400 envelope with optional field errors.
func Validation(detail string, fields map[string][]string) Details {
	return Details{
		Type:   TypeValidation,
		Title:  "Validation failed",
		Status: http.StatusBadRequest,
		Detail: detail,
		Errors: fields,
	}
}

// NotFound is the 404 envelope.
func NotFound(detail string) Details {
	return New(TypeNotFound, "Resource not found", http.StatusNotFound, detail)
}

// Conflict is the 409 envelope.
func Conflict(detail string) Details {
	return New(TypeConflict, "Conflict", http.StatusConflict, detail)
}

// Internal is the 500 envelope; detail is intentionally generic.
func Internal() Details {
	return New(TypeInternal, "Internal server error", http.StatusInternalServerError, "an unexpected error occurred")
}
