package protocol

import "fmt"

// ErrorKind enumerates the language-neutral error taxonomy from
// spec.md §7.
type ErrorKind string

const (
	KindYAMLParse     ErrorKind = "yaml_parse_error"
	KindValidation    ErrorKind = "validation_error"
	KindMissingFile   ErrorKind = "missing_file"
	KindStartFailure  ErrorKind = "matlab_start_failure"
	KindExecution     ErrorKind = "execution_error"
	KindTimeout       ErrorKind = "timeout"
	KindInvalidConfig ErrorKind = "invalid_config"
	KindBadRequest    ErrorKind = "bad_request"
)

// Error wraps an underlying cause with the kind used to build an error
// response and to decide retry/NACK behavior (spec.md §7).
type Error struct {
	Kind      ErrorKind
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a kinded error wrapping err.
func NewError(kind ErrorKind, retriable bool, err error) *Error {
	return &Error{Kind: kind, Retriable: retriable, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or a wrapped cause)
// is a *Error, defaulting to execution_error otherwise — the
// catch-all bucket per spec.md §4.8's failure taxonomy mapping.
func KindOf(err error) ErrorKind {
	var kindErr *Error
	if asError(err, &kindErr) {
		return kindErr.Kind
	}
	return KindExecution
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
