package shared

import "errors"

// Error kinds. Every error surfaced by the ledger wraps exactly one of these
// so transport layers can map it without knowing the concrete sentinel.
var (
	// ErrValidation indicates malformed input rejected before any transaction opens.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict indicates the resource is in a state that forbids the action.
	ErrStateConflict = errors.New("state conflict")
	// ErrIntegrity indicates a ledger invariant would be broken.
	ErrIntegrity = errors.New("integrity violation")
	// ErrUnauthorized indicates the acting principal is missing.
	ErrUnauthorized = errors.New("unauthorized")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewKindError returns a sentinel carrying msg that matches kind via errors.Is.
func NewKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// KindOf reports which error kind err belongs to, or nil when unclassified.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrStateConflict, ErrIntegrity, ErrUnauthorized} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
