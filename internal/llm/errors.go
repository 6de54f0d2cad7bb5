package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/c4h-ai/orchestrator/internal/circuitbreaker"
)

// ErrorKind classifies provider failures. Retriable kinds are transient
// provider conditions; everything else fails the call immediately.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindOverloaded     ErrorKind = "overloaded"
	KindTimeout        ErrorKind = "timeout"
	KindAuth           ErrorKind = "auth"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindContentFilter  ErrorKind = "content_filter"
	KindUnknown        ErrorKind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retriable reports whether the error is a transient provider condition.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindRateLimit, KindOverloaded, KindTimeout:
		return true
	}
	return false
}

// Retriable reports whether err warrants a backoff-and-retry. Breaker
// rejections count: the cooldown gives the provider time to recover.
func Retriable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retriable()
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return true
	}
	return false
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(provider string, status int, body string) *Error {
	kind := KindUnknown
	switch {
	case status == 429:
		kind = KindRateLimit
	case status == 529, status == 503:
		kind = KindOverloaded
	case status == 500, status == 502, status == 504:
		kind = KindOverloaded
	case status == 408:
		kind = KindTimeout
	case status == 401, status == 403:
		kind = KindAuth
	case status >= 400 && status < 500:
		kind = KindInvalidRequest
	}
	return &Error{Provider: provider, Kind: kind, Status: status, Message: truncateBody(body)}
}

// classifyTransport maps a transport-level error (no HTTP status) to an
// error kind. Timeouts and connectivity blips are transient.
func classifyTransport(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: provider, Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Provider: provider, Kind: KindTimeout, Message: err.Error()}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return &Error{Provider: provider, Kind: KindTimeout, Message: err.Error()}
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "eof"):
		return &Error{Provider: provider, Kind: KindOverloaded, Message: err.Error()}
	}
	return &Error{Provider: provider, Kind: KindUnknown, Message: err.Error()}
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		return body[:512]
	}
	return body
}
