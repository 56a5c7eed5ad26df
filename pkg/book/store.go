package book

import "context"

// Store is the persistence contract used by Service and by the transaction
// initiator. Implementations must make WithTx atomic: everything written
// inside fn commits or nothing does.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, scope Scope, accountID AccountID) (Account, error)
	FindAccountByOwner(ctx context.Context, scope Scope, ownerRef string) (Account, error)
	GetOrCreateControlAccount(ctx context.Context, scope Scope, currency Currency) (Account, error)
	UpdateAccountStatus(ctx context.Context, scope Scope, accountID AccountID, from, to AccountStatus) error

	CreateTransaction(ctx context.Context, transaction Transaction) error
	GetTransaction(ctx context.Context, scope Scope, transactionID TransactionID) (Transaction, error)
	// UpdateTransactionStatus performs a compare-and-swap from one status to
	// another and reports ErrImmutableRecord when the row is no longer in
	// the expected source status.
	UpdateTransactionStatus(ctx context.Context, scope Scope, transactionID TransactionID, from, to TransactionStatus, reason FailureReason) error
	ListPendingTransactions(ctx context.Context, olderThanUnixUTC int64, limit int) ([]Transaction, error)
	IncrementReconcileAttempts(ctx context.Context, scope Scope, transactionID TransactionID) (int, error)

	InsertEntries(ctx context.Context, entries []Entry) error
	ListTransactionEntries(ctx context.Context, scope Scope, transactionID TransactionID) ([]Entry, error)
	ListAccountEntries(ctx context.Context, scope Scope, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)

	// GetBalanceForUpdate locks the balance row for the remainder of the
	// surrounding transaction so concurrent postings against the same
	// account serialize.
	GetBalanceForUpdate(ctx context.Context, scope Scope, accountID AccountID) (AccountBalance, error)
	GetBalance(ctx context.Context, scope Scope, accountID AccountID) (AccountBalance, error)
	// ApplyBalanceDelta adds delta to the locked balance row and bumps its
	// version. expectVersion is the version observed under the lock.
	ApplyBalanceDelta(ctx context.Context, scope Scope, accountID AccountID, delta int64, expectVersion int64, atUnixUTC int64) error

	GetIdempotencyRecord(ctx context.Context, scope Scope, key IdempotencyKey) (IdempotencyRecord, error)
	CreateIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error
}
