package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

type ErrorType string

const (
	ErrTypeTransientFetch   ErrorType = "TRANSIENT_FETCH"
	ErrTypeMalformedPayload ErrorType = "MALFORMED_PAYLOAD"
	ErrTypeStoreUnavailable ErrorType = "STORE_UNAVAILABLE"
	ErrTypeConfiguration    ErrorType = "CONFIGURATION"
	ErrTypeInternal         ErrorType = "INTERNAL"
)

type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Stack   []byte
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) StackTrace() []byte {
	return e.Stack
}

func New(errType ErrorType, message string, err error) *DomainError {
	var stack []byte
	if err != nil {
		if stackErr, ok := err.(*goerrors.Error); ok {
			stack = stackErr.Stack()
		} else {
			stack = goerrors.Wrap(err, 2).Stack()
		}
	} else {
		stack = goerrors.New(message).Stack()
	}

	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

// TransientFetch marks a source failure that is expected to clear on retry
// (network, rate limit, upstream 5xx).
func TransientFetch(message string, err error) *DomainError {
	return New(ErrTypeTransientFetch, message, err)
}

// MalformedPayload marks a single item that could not be turned into a
// posting. It never aborts a batch.
func MalformedPayload(message string, err error) *DomainError {
	return New(ErrTypeMalformedPayload, message, err)
}

func StoreUnavailable(message string, err error) *DomainError {
	return New(ErrTypeStoreUnavailable, message, err)
}

// Configuration is fatal for the source that raised it, never for the process.
func Configuration(message string, err error) *DomainError {
	return New(ErrTypeConfiguration, message, err)
}

func Internal(message string, err error) *DomainError {
	return New(ErrTypeInternal, message, err)
}

// TypeOf returns the type of the outermost DomainError in err's chain.
// Plain errors are reported as INTERNAL.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Type
	}
	return ErrTypeInternal
}

func IsTransientFetch(err error) bool   { return is(err, ErrTypeTransientFetch) }
func IsMalformedPayload(err error) bool { return is(err, ErrTypeMalformedPayload) }
func IsStoreUnavailable(err error) bool { return is(err, ErrTypeStoreUnavailable) }
func IsConfiguration(err error) bool    { return is(err, ErrTypeConfiguration) }

func is(err error, t ErrorType) bool {
	var de *DomainError
	for err != nil {
		if !stderrors.As(err, &de) {
			return false
		}
		if de.Type == t {
			return true
		}
		err = de.Err
	}
	return false
}

func As(err error, target any) bool { return stderrors.As(err, target) }
func Is(err, target error) bool     { return stderrors.Is(err, target) }
