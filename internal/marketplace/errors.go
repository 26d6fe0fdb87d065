package marketplace

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth marks an invalid or expired credential. Never retried; the
	// seller has to reconnect the marketplace account.
	ErrAuth = errors.New("marketplace: authorization rejected")
	// ErrThrottled marks an upstream quota rejection.
	ErrThrottled = errors.New("marketplace: request throttled")
)

// transientError wraps failures worth a bounded retry (network, 5xx).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying at the call boundary.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te) || errors.Is(err, ErrThrottled)
}

// classifyStatus converts a non-2xx upstream status into the error taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (%d): %s", ErrAuth, status, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (%d)", ErrThrottled, status)
	case status >= 500:
		return Transient(fmt.Errorf("marketplace api error (%d): %s", status, body))
	default:
		return fmt.Errorf("marketplace api error (%d): %s", status, body)
	}
}
