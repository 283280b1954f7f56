package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"tgrelay/internal/domain"
)

func TestStatusFor(t *testing.T) {
	transport := &domain.TransportError{Op: "sendMessage", Err: errors.New("blocked")}
	persist := fmt.Errorf("%w: outgoing: %w", domain.ErrPersist, errors.New("db down"))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("client x: %w", domain.ErrNotFound), http.StatusNotFound},
		{"empty", domain.ErrEmptyMessage, http.StatusUnprocessableEntity},
		{"transport", transport, http.StatusBadGateway},
		{"transport and lost write", errors.Join(transport, persist), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("got %d want %d", got, tt.want)
			}
		})
	}
}
