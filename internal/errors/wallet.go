package errors

import stderrors "errors"

var (
	// ErrInsufficientFunds is user-correctable; nothing was mutated.
	ErrInsufficientFunds = &DomainError{
		Code:    "INSUFFICIENT_FUNDS",
		Message: "insufficient funds",
	}
	// ErrVersionConflict means another writer committed first. Re-read and retry.
	ErrVersionConflict = &DomainError{
		Code:    "VERSION_CONFLICT",
		Message: "wallet version conflict",
	}
	ErrDuplicateReference = &DomainError{
		Code:    "DUPLICATE_REFERENCE",
		Message: "external reference already recorded",
	}
	ErrAlreadyTerminal = &DomainError{
		Code:    "ALREADY_TERMINAL",
		Message: "transaction already terminal",
	}
	ErrUpstreamUnavailable = &DomainError{
		Code:    "UPSTREAM_UNAVAILABLE",
		Message: "payment processor unavailable",
	}
	ErrProcessorRejected = &DomainError{
		Code:    "PROCESSOR_REJECTED",
		Message: "payment processor rejected the request",
	}
	ErrUnrecognizedEvent = &DomainError{
		Code:    "UNRECOGNIZED_EVENT",
		Message: "unrecognized processor event",
	}
	// ErrSchemaViolation signals corrupted persisted state. It is never repaired.
	ErrSchemaViolation = &DomainError{
		Code:    "SCHEMA_VIOLATION",
		Message: "persisted ledger state violates invariants",
	}
	ErrStoreUnavailable = &DomainError{
		Code:    "STORE_UNAVAILABLE",
		Message: "ledger store unavailable",
	}
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrTransactionNotFound = &DomainError{
		Code:    "TRANSACTION_NOT_FOUND",
		Message: "transaction not found",
	}
	ErrInvalidAmount = &DomainError{
		Code:    "INVALID_AMOUNT",
		Message: "invalid amount",
	}
)

// IsExpectedDuplicate reports errors that at-least-once delivery produces and
// that callers treat as success.
func IsExpectedDuplicate(err error) bool {
	return stderrors.Is(err, ErrAlreadyTerminal) || stderrors.Is(err, ErrDuplicateReference)
}

// IsTransient reports errors worth retrying locally with a fresh read.
func IsTransient(err error) bool {
	return stderrors.Is(err, ErrVersionConflict) || stderrors.Is(err, ErrStoreUnavailable)
}
