package problems

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"fleetbroker/pkg/faults"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Problem is an RFC 7807 body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Write emits an application/problem+json response.
func Write(w http.ResponseWriter, status int, slug, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: Type(slug), Title: title, Status: status, Detail: detail})
}

// Status maps a taxonomy fault onto an HTTP status and problem slug.
func Status(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return 499, "canceled"
	}
	switch faults.Kind(err) {
	case faults.ErrPermanentAuth:
		return http.StatusForbidden, "delegation-unusable"
	case faults.ErrForbidden:
		return http.StatusForbidden, "forbidden"
	case faults.ErrInvalidRequest:
		return http.StatusBadRequest, "invalid-request"
	case faults.ErrMalformedDelegation:
		return http.StatusUnprocessableEntity, "malformed-role"
	case faults.ErrCapacityExhausted:
		return http.StatusServiceUnavailable, "capacity-exhausted"
	case faults.ErrNotFound:
		return http.StatusNotFound, "not-found"
	case faults.ErrConflict:
		return http.StatusConflict, "conflict"
	case faults.ErrIntegrity:
		return http.StatusInternalServerError, "integrity"
	case faults.ErrPollTimeout:
		return http.StatusGatewayTimeout, "poll-timeout"
	}
	return http.StatusBadGateway, "provider"
}

// WriteError renders err with its mapped status and the tenant-safe message.
func WriteError(w http.ResponseWriter, err error) {
	status, slug := Status(err)
	Write(w, status, slug, faults.UserMessage(err), "")
}
