package signing

import (
	"errors"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrKeyResolution  = errors.New("key resolution error")
	ErrKeyMaterial    = errors.New("key material error")
	ErrDocumentAccess = errors.New("document access error")
	ErrSigning        = errors.New("signing error")
	ErrPersistence    = errors.New("persistence error")
	ErrVerification   = errors.New("verification error")

	// ErrNotFound is returned by repository ports for unknown references.
	ErrNotFound = errors.New("reference not found")
)

// Error carries a failure kind together with a user facing message and an
// optional cause. errors.Is matches both the kind and the cause chain.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func newError(kind error, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DocumentError attributes a failure to one document of a batch.
type DocumentError struct {
	Ref  Ref
	Name string
	Err  error
}

func (e *DocumentError) Error() string {
	return "[" + e.Name + "] " + e.Err.Error()
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// BatchError aggregates the failed documents of a signing request.
type BatchError struct {
	Failures []*DocumentError
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "\n")
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
