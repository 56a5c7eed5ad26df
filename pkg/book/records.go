package book

import "fmt"

// Account is a ledger account. Status is the only mutable field; accounts
// are never deleted.
type Account struct {
	AccountID      AccountID
	Scope          Scope
	OwnerRef       string
	Type           AccountType
	Currency       Currency
	Status         AccountStatus
	CreatedUnixUTC int64
}

// Transaction is the immutable-once-terminal unit of money movement.
type Transaction struct {
	TransactionID     TransactionID
	Scope             Scope
	ExternalRef       string
	IdempotencyKey    IdempotencyKey
	Status            TransactionStatus
	FailureReason     FailureReason
	RequestJSON       string
	ReconcileAttempts int
	CreatedUnixUTC    int64
	UpdatedUnixUTC    int64
}

// Entry is a single write-once line in the book. Corrections are made by
// posting a new, reversing transaction.
type Entry struct {
	EntryID        string
	TransactionID  TransactionID
	AccountID      AccountID
	Direction      EntryDirection
	AmountMinor    AmountMinor
	Currency       Currency
	CreatedUnixUTC int64
}

// EntryInput is one proposed line of a transaction to be posted.
type EntryInput struct {
	AccountID   AccountID
	Direction   EntryDirection
	AmountMinor AmountMinor
	Currency    Currency
}

// NewEntryInput validates a proposed entry.
func NewEntryInput(accountID AccountID, direction EntryDirection, amount AmountMinor, currency Currency) (EntryInput, error) {
	if accountID.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseEntryDirection(direction.String()); err != nil {
		return EntryInput{}, err
	}
	if amount <= 0 {
		return EntryInput{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountMinor)
	}
	if currency.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidCurrency)
	}
	return EntryInput{
		AccountID:   accountID,
		Direction:   direction,
		AmountMinor: amount,
		Currency:    currency,
	}, nil
}

// AccountBalance is the materialized projection of posted entries for one
// account. The row is versioned and only written inside the same atomic
// unit as the entries that justify the change.
type AccountBalance struct {
	AccountID      AccountID
	Scope          Scope
	BalanceMinor   int64
	Version        int64
	UpdatedUnixUTC int64
}

// IdempotencyRecord pins the outcome of the first request seen under a
// (scope, key) pair. Later requests with the same fingerprint replay the
// recorded transaction; a different fingerprint is a conflict.
type IdempotencyRecord struct {
	Scope          Scope
	Key            IdempotencyKey
	Fingerprint    string
	TransactionID  TransactionID
	CreatedUnixUTC int64
}
