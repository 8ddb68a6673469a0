// Package berr classifies errors into the taxonomy the pipeline's services
// use to decide retry / fail-fast / cycle-local-record behavior.
package berr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error classes every service-level failure is
// mapped into before it leaves a component boundary.
type Kind string

const (
	Configuration  Kind = "configuration"
	ConnectionPool Kind = "connection_pool"
	Query          Kind = "query"
	Timeout        Kind = "timeout"
	TLS            Kind = "tls"
	Protocol       Kind = "protocol"
	Publishing     Kind = "publishing"
)

// Error is a classified, wrapped error carrying the kind, an optional relay
// URL, and a short human reason for structured logging.
type Error struct {
	Kind    Kind
	Relay   string
	Reason  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Relay != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Reason, e.Relay)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds a classified error with no relay context.
func New(kind Kind, reason string, wrapped error) *Error {
	return &Error{Kind: kind, Reason: reason, Wrapped: wrapped}
}

// ForRelay builds a classified error scoped to a specific relay URL.
func ForRelay(kind Kind, relayURL, reason string, wrapped error) *Error {
	return &Error{Kind: kind, Relay: relayURL, Reason: reason, Wrapped: wrapped}
}

// Is reports whether err is a classified Error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// Retryable reports whether a classified error's kind is one the retry
// policy should attempt again (transient connection-pool/timeout failures),
// as opposed to permanent ones (bad SQL, config).
func Retryable(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	switch be.Kind {
	case ConnectionPool, Timeout:
		return true
	default:
		return false
	}
}
