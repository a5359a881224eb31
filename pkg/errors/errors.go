package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and containment decisions.
type Kind string

const (
	// KindTransient covers network failures, HTTP 5xx and 429. Retried.
	KindTransient Kind = "transient"
	// KindPermanent covers HTTP 4xx other than 429. Never retried.
	KindPermanent Kind = "permanent"
	// KindMalformed covers bodies that cannot be parsed into the
	// expected shape. Never retried.
	KindMalformed Kind = "malformed"
	// KindPersistence covers durable write failures. Fatal to the run.
	KindPersistence Kind = "persistence"
)

// FetchError is a classified failure from the listing or detail endpoint.
type FetchError struct {
	Kind Kind
	Op   string // "page" or "detail"
	Ref  string // page index or item identifier
	Code int    // HTTP status, 0 for network errors
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %s (code %d): %v", e.Kind, e.Op, e.Ref, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s %s (code %d)", e.Kind, e.Op, e.Ref, e.Code)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient builds a retryable fetch error.
func Transient(op, ref string, code int, err error) *FetchError {
	return &FetchError{Kind: KindTransient, Op: op, Ref: ref, Code: code, Err: err}
}

// Permanent builds a non-retryable fetch error.
func Permanent(op, ref string, code int, err error) *FetchError {
	return &FetchError{Kind: KindPermanent, Op: op, Ref: ref, Code: code, Err: err}
}

// Malformed builds an unparseable-body fetch error.
func Malformed(op, ref string, err error) *FetchError {
	return &FetchError{Kind: KindMalformed, Op: op, Ref: ref, Err: err}
}

// FromStatusCode classifies a non-200 HTTP response.
func FromStatusCode(op, ref string, code int) *FetchError {
	if code == 429 || code >= 500 {
		return Transient(op, ref, code, nil)
	}
	return Permanent(op, ref, code, nil)
}

// PersistenceError is a durable write failure. The run must stop rather
// than risk marking identifiers done whose records were lost.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps a durable storage failure.
func Persistence(op, path string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Path: path, Err: err}
}

// KindOf reports the classification of err, or the empty Kind for
// errors that did not come from this package.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return KindPersistence
	}
	return ""
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPersistence reports whether err is fatal to the run.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsRetryableStatusCode reports whether an HTTP status code indicates a
// retryable failure. Status 0 stands for a network error.
func IsRetryableStatusCode(code int) bool {
	switch {
	case code == 0:
		return true
	case code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
