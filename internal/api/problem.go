package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/outbound"
	"github.com/hyperengineering/oppsync/internal/store"
	"github.com/hyperengineering/oppsync/internal/trigger"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusUnauthorized:        {"https://oppsync.dev/errors/unauthorized", "Unauthorized"},
	http.StatusBadRequest:          {"https://oppsync.dev/errors/bad-request", "Bad Request"},
	http.StatusNotFound:            {"https://oppsync.dev/errors/not-found", "Not Found"},
	http.StatusInternalServerError: {"https://oppsync.dev/errors/internal-error", "Internal Server Error"},
	http.StatusConflict:            {"https://oppsync.dev/errors/conflict", "Conflict"},
	http.StatusForbidden:           {"https://oppsync.dev/errors/forbidden", "Forbidden"},
	http.StatusRequestEntityTooLarge: {
		"https://oppsync.dev/errors/payload-too-large", "Payload Too Large",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{"https://oppsync.dev/errors/unknown", http.StatusText(status)}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes and a client-safe detail.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, trigger.ErrUnknownJob):
		return http.StatusNotFound, "Unknown job"
	case errors.Is(err, batch.ErrJobNotFound), errors.Is(err, store.ErrJobNotFound):
		return http.StatusNotFound, "Job not found"
	case errors.Is(err, trigger.ErrPollInProgress):
		return http.StatusConflict, "A poll for this job is already running"
	case errors.Is(err, trigger.ErrOrganizationNotAllowed):
		return http.StatusForbidden, "Organization not allowed"
	case errors.Is(err, outbound.ErrDecode):
		return http.StatusBadRequest, err.Error()
	default:
		// Never expose internal error details to client
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"component", "api",
			"path", r.URL.Path,
			"error", err,
		)
	}
	WriteProblem(w, r, status, detail)
}
