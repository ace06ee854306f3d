// Package fault classifies pipeline errors so callers can decide between retrying,
// skipping an item, or failing an operation.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind is the failure class of an error.
type Kind int

const (
	// Unknown is any error that was not classified.
	Unknown Kind = iota
	// Transient covers network failures, 5xx/429 replies and sink-reported error codes.
	Transient
	// Persistence covers ledger read/write failures.
	Persistence
	// Config covers missing secrets and malformed targets.
	Config
	// Validation covers rejected or malformed payloads; never retried.
	Validation
	// BestEffort marks failures of optional side channels.
	BestEffort
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Persistence:
		return "persistence"
	case Config:
		return "config"
	case Validation:
		return "validation"
	case BestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields a bare failure of that kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err should be retried: classified transient errors
// and unclassified transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case Transient:
		return true
	case Unknown:
		return isTransportError(err)
	default:
		return false
	}
}

// ClassifyTransport wraps a transport-level error from an HTTP call. Network errors
// become Transient; anything else is returned classified as Validation.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransportError(err) {
		return New(Transient, op, err)
	}
	return New(Validation, op, err)
}

// ClassifyStatus maps an HTTP status code to a kind: 5xx and 429 are transient,
// other non-2xx codes are validation failures.
func ClassifyStatus(status int) Kind {
	switch {
	case status >= 200 && status < 300:
		return Unknown
	case status == 429 || status >= 500:
		return Transient
	default:
		return Validation
	}
}

func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}
