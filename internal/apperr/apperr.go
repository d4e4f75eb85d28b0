// Package apperr classifies pipeline failures so the queue consumer can
// decide message disposition without inspecting error strings.
package apperr

import (
	"errors"
)

// Kind is the failure class of an error.
type Kind int

const (
	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = iota
	// KindContract marks an envelope that failed schema validation.
	KindContract
	// KindInternal marks decode failures, missing bodies, unhandled schema
	// tags and storage faults.
	KindInternal
	// KindIntegration marks transport failures against the queue, cache,
	// durable store or a webhook endpoint.
	KindIntegration
)

// String returns the lowercase name of the kind, used as a metrics label.
func (k Kind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindInternal:
		return "internal"
	case KindIntegration:
		return "integration"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed
// ("registry.save", "router.decode").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String() + " error"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Contract wraps err as a contract failure.
func Contract(op string, err error) error {
	return &Error{Kind: KindContract, Op: op, Err: err}
}

// Internal wraps err as an internal failure.
func Internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// Integration wraps err as an integration failure.
func Integration(op string, err error) error {
	return &Error{Kind: KindIntegration, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
