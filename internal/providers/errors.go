package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies provider failures so the conversation loop can decide
// between retrying, surfacing, and degrading.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimit
	KindAuth
	KindBadRequest
	KindEmptyResponse
	KindUnavailable
	KindTimeout
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindEmptyResponse:
		return "empty_response"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether a retry with backoff makes sense.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindUnavailable, KindTimeout, KindEmptyResponse:
		return true
	}
	return false
}

// KindOf extracts the classification from any error chain.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// classifyHTTP maps a non-2xx response to a typed error.
func classifyHTTP(provider string, status int, body string, header http.Header) *Error {
	e := &Error{Provider: provider, Status: status, Message: truncate(body, 500)}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		if ra := header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status >= 500:
		e.Kind = KindUnavailable
	case status >= 400:
		e.Kind = KindBadRequest
	default:
		e.Kind = KindUnknown
	}
	return e
}

// classifyTransport maps request-level failures to typed errors.
func classifyTransport(provider string, err error) *Error {
	kind := KindUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Message: err.Error()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
