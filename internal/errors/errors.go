// Package errors defines the domain error taxonomy shared by the ledger
// components. Sentinels compare by Code, so wrapped errors still match with
// the standard library's errors.Is.
package errors

import stderrors "errors"

// DomainError is an error with a stable machine-readable code.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns a DomainError with the given code and message.
func New(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Code returns the code of the first DomainError in err's chain, or "".
func Code(err error) string {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}
