package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class is the error taxonomy of the gateway. Callers decide whether to
// retry based on it: transient classes are retried with the limiter's
// backoff, fatal classes stop the bot.
type Class string

const (
	ClassNetwork           Class = "network"
	ClassAuth              Class = "auth"
	ClassPermission        Class = "permission"
	ClassInsufficientFunds Class = "insufficient_funds"
	ClassInvalidOrder      Class = "invalid_order"
	ClassRateLimited       Class = "rate_limited"
	ClassUnavailable       Class = "unavailable"
	ClassUnsupported       Class = "unsupported"
	ClassUnknown           Class = "unknown"
)

// Retryable reports whether the failure is transient.
func (c Class) Retryable() bool {
	switch c {
	case ClassNetwork, ClassRateLimited, ClassUnavailable:
		return true
	}
	return false
}

// Fatal reports whether the failure must stop the bot immediately,
// never to be retried automatically.
func (c Class) Fatal() bool {
	switch c {
	case ClassAuth, ClassPermission, ClassInsufficientFunds:
		return true
	}
	return false
}

// Error is a classified exchange failure.
type Error struct {
	Class      Class
	ExchangeID string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s [%s]: %v", e.ExchangeID, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf extracts the class from a classified error, ClassUnknown for
// anything else.
func ClassOf(err error) Class {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Class
	}
	return ClassUnknown
}

// Sentinels an Exchange implementation can wrap to classify precisely.
var (
	ErrAuth              = errors.New("authentication failed")
	ErrPermission        = errors.New("permission denied")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnavailable       = errors.New("exchange unavailable")
	ErrUnsupported       = errors.New("operation unsupported")
)

// Classify maps an arbitrary exchange error into the taxonomy. Sentinel
// and net errors are matched structurally; the message heuristics are a
// last resort for opaque SDK errors.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrPermission):
		return ClassPermission
	case errors.Is(err, ErrInsufficientFunds):
		return ClassInsufficientFunds
	case errors.Is(err, ErrInvalidOrder):
		return ClassInvalidOrder
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrUnavailable):
		return ClassUnavailable
	case errors.Is(err, ErrUnsupported):
		return ClassUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return ClassNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"):
		return ClassNetwork
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "ddos"):
		return ClassRateLimited
	case strings.Contains(msg, "api key"), strings.Contains(msg, "signature"),
		strings.Contains(msg, "unauthorized"):
		return ClassAuth
	case strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"):
		return ClassPermission
	case strings.Contains(msg, "insufficient"):
		return ClassInsufficientFunds
	case strings.Contains(msg, "maintenance"), strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "503"):
		return ClassUnavailable
	}
	return ClassUnknown
}
