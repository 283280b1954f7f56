package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"tgrelay/internal/domain"
)

const (
	ErrInvalidJSON   = "invalid json"
	ErrMissingID     = "missing id"
	ErrDependency    = "dependency error"
	ErrNotFound      = "not found"
	ErrBadForm       = "bad form"
	ErrInvalidSecret = "invalid secret token"
	ErrUnauthorized  = "unauthorized"
	ErrInvalidLimit  = "invalid limit"
	ErrNoAttachment  = "message has no attachment"
	ErrEnqueueFailed = "enqueue failed"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP statuses; anything unknown is a dependency failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoDestination),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPersist):
		return http.StatusInternalServerError
	case domain.IsTransport(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func unauthorized(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
}
