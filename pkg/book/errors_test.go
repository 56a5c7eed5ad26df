package book

import (
	"errors"
	"testing"
)

func TestOperationErrorFormatsSegments(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("post", "transaction", "unbalanced", ErrUnbalancedEntries)

	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "post" || operationError.Subject() != "transaction" || operationError.Code() != "unbalanced" {
		test.Fatalf("unexpected segments: %s %s %s", operationError.Operation(), operationError.Subject(), operationError.Code())
	}
	expected := "post.transaction.unbalanced: debit and credit amounts do not balance"
	if wrapped.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrapped.Error())
	}
}

func TestWrapErrorPreservesSentinel(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("store", "account", "missing", ErrUnknownAccount)
	if !errors.Is(wrapped, ErrUnknownAccount) {
		test.Fatalf("expected ErrUnknownAccount through the wrap, got %v", wrapped)
	}
}

func TestWrapErrorNilPassesThrough(test *testing.T) {
	test.Parallel()
	if wrapped := WrapError("store", "account", "missing", nil); wrapped != nil {
		test.Fatalf("expected nil, got %v", wrapped)
	}
}

func TestTerminalFailureMapsRecordedReasons(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name     string
		reason   FailureReason
		expected error
	}{
		{name: "too few entries", reason: ReasonTooFewEntries, expected: ErrTooFewEntries},
		{name: "unbalanced", reason: ReasonUnbalancedEntries, expected: ErrUnbalancedEntries},
		{name: "currency mismatch", reason: ReasonCurrencyMismatch, expected: ErrCurrencyMismatch},
		{name: "unknown account", reason: ReasonUnknownAccount, expected: ErrUnknownAccount},
		{name: "account closed", reason: ReasonAccountClosed, expected: ErrAccountClosed},
		{name: "insufficient funds", reason: ReasonInsufficientFunds, expected: ErrInsufficientFunds},
		{name: "reconciliation timeout", reason: ReasonReconciliationTimeout, expected: ErrReconciliationBudget},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := TerminalFailure(Transaction{Status: StatusFailed, FailureReason: testCase.reason})
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestTerminalFailureIgnoresNonFailedStatuses(test *testing.T) {
	test.Parallel()
	if err := TerminalFailure(Transaction{Status: StatusPosted}); err != nil {
		test.Fatalf("posted transaction must map to nil, got %v", err)
	}
	if err := TerminalFailure(Transaction{Status: StatusPending}); err != nil {
		test.Fatalf("pending transaction must map to nil, got %v", err)
	}
}
