// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mwrenn/ppubsd/internal/ppubs"
)

// failure is the uniform error body every endpoint returns. Callers branch
// on errorCode; message is for humans.
type failure struct {
	Failed     bool           `json:"failed"`
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode,omitempty"` // upstream HTTP status when known
	ErrorCode  string         `json:"errorCode"`
	Details    map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a core error into the uniform failure descriptor.
func writeError(w http.ResponseWriter, err error) {
	status, desc := describe(err)
	writeJSON(w, status, desc)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, failure{
		Failed:    true,
		Message:   message,
		ErrorCode: "bad_request",
	})
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusNotFound, failure{
		Failed:    true,
		Message:   message,
		ErrorCode: "not_found",
	})
}

// describe maps the full core error taxonomy to an HTTP status and
// descriptor. Nothing falls through to a bare 500 string.
func describe(err error) (int, failure) {
	desc := failure{Failed: true, Message: err.Error()}

	var rich *ppubs.Error
	if errors.As(err, &rich) {
		desc.StatusCode = rich.Status
		if rich.Code != "" {
			desc.Details = map[string]any{"upstreamCode": rich.Code}
		}
		if rich.Attempts > 1 {
			if desc.Details == nil {
				desc.Details = map[string]any{}
			}
			desc.Details["attempts"] = rich.Attempts
		}
	}

	switch {
	case errors.Is(err, ppubs.ErrNotFound):
		desc.ErrorCode = "not_found"
		return http.StatusNotFound, desc
	case errors.Is(err, ppubs.ErrRateLimited):
		desc.ErrorCode = "rate_limited"
		return http.StatusTooManyRequests, desc
	case errors.Is(err, ppubs.ErrAuthExpired):
		desc.ErrorCode = "auth_expired"
		return http.StatusBadGateway, desc
	case errors.Is(err, ppubs.ErrTimeout):
		desc.ErrorCode = "upstream_timeout"
		return http.StatusGatewayTimeout, desc
	case errors.Is(err, ppubs.ErrUnreachable):
		desc.ErrorCode = "upstream_unreachable"
		return http.StatusBadGateway, desc
	case errors.Is(err, ppubs.ErrServerError):
		desc.ErrorCode = "upstream_error"
		return http.StatusBadGateway, desc
	case errors.Is(err, ppubs.ErrBadResponse):
		desc.ErrorCode = "malformed_response"
		return http.StatusBadGateway, desc
	case errors.Is(err, ppubs.ErrJobFailed):
		desc.ErrorCode = "job_failed"
		return http.StatusBadGateway, desc
	case errors.Is(err, ppubs.ErrJobTimeout):
		desc.ErrorCode = "job_timeout"
		return http.StatusGatewayTimeout, desc
	case errors.Is(err, context.DeadlineExceeded):
		desc.ErrorCode = "deadline_exceeded"
		return http.StatusGatewayTimeout, desc
	case errors.Is(err, context.Canceled):
		desc.ErrorCode = "canceled"
		return 499, desc // client closed request
	default:
		desc.ErrorCode = "internal"
		return http.StatusInternalServerError, desc
	}
}
