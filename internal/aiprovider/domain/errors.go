package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrProviderUnavailable  = errors.New("provider_unavailable")
	ErrProviderRejected     = errors.New("provider_rejected")
	ErrNoBackends           = errors.New("no_provider_configured")
	ErrInvalidTone          = errors.New("invalid_tone")
	ErrEmptyReview          = errors.New("empty_review_text")
	ErrEmptyCompletion      = errors.New("empty_completion")
	ErrMalformedCompletion  = errors.New("malformed_completion")
	ErrUnsupportedSentiment = errors.New("unsupported_sentiment")
)

// StatusError is how backends report an HTTP-level failure from their SDK.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// TransientError is returned once every attempt on every backend failed
// with a retryable error.
type TransientError struct {
	Provider   string
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("provider_unavailable: provider=%s attempts=%d retry_after=%s: %v",
		e.Provider, e.Attempts, e.RetryAfter, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrProviderUnavailable }

// PermanentError is a failure a retry will not fix.
type PermanentError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider_rejected: provider=%s status=%d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider_rejected: provider=%s: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func (e *PermanentError) Is(target error) bool { return target == ErrProviderRejected }

// IsTransient reports whether another attempt could succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return IsTransientStatus(statusErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "unexpected eof")
}

func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // overloaded
		return true
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
