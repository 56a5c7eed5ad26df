package book

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger engine and its callers.
var (
	ErrTooFewEntries        = errors.New("transaction needs at least two entries")
	ErrUnbalancedEntries    = errors.New("debit and credit amounts do not balance")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrForeignScopeAccount  = errors.New("account belongs to another scope")
	ErrAccountClosed        = errors.New("account closed")
	ErrAccountExists        = errors.New("account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrIdempotencyConflict  = errors.New("idempotency key reused with a different request")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency record")
	ErrImmutableRecord      = errors.New("immutable record violation")
	ErrUnknownTransaction   = errors.New("unknown transaction")
	ErrUnknownIdempotency   = errors.New("unknown idempotency record")
	ErrTransientDependency  = errors.New("transient dependency failure")
	ErrReconciliationBudget = errors.New("reconciliation retry budget exhausted")

	ErrInvalidScope          = errors.New("invalid scope")
	ErrInvalidAccountID      = errors.New("invalid account id")
	ErrInvalidTransactionID  = errors.New("invalid transaction id")
	ErrInvalidOwnerRef       = errors.New("invalid owner reference")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidAmountMinor    = errors.New("invalid minor-unit amount")
	ErrInvalidCurrency       = errors.New("invalid currency")
	ErrInvalidDirection      = errors.New("invalid entry direction")
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidAccountStatus  = errors.New("invalid account status")
	ErrInvalidStatus         = errors.New("invalid transaction status")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
