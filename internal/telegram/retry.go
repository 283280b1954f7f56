package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// StatusError is a non-200 answer from the file download endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected http status %d", e.Code) }

// ShouldRetry reports whether err is transient: timeouts, 429 and 5xx.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if code, ok := APIErrorCode(err); ok {
		return code == 429 || code >= 500
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code == 408 || se.Code >= 500
	}
	return false
}

// APIErrorCode extracts the Bot API error_code from err.
func APIErrorCode(err error) (int, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

func Backoff(attempt int) time.Duration {
	// 200ms, 600ms, 1400ms
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
