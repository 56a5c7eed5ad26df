// Package memstore is an in-memory book.Store used by tests and local
// experiments. It honors the same error contract as the SQL-backed store,
// including compare-and-swap semantics and rollback on a failed WithTx.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
)

// Store keeps every record in maps guarded by one mutex. WithTx snapshots
// the maps and restores them when fn returns an error, which mirrors the
// commit-or-nothing contract of the SQL store. Transactions are serialized
// on txMu so a rollback can never erase another transaction's commit.
type Store struct {
	txMu         sync.Mutex
	mu           sync.Mutex
	accounts     map[string]book.Account
	transactions map[string]book.Transaction
	entries      []book.Entry
	balances     map[string]book.AccountBalance
	idempotency  map[string]book.IdempotencyRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]book.Account),
		transactions: make(map[string]book.Transaction),
		balances:     make(map[string]book.AccountBalance),
		idempotency:  make(map[string]book.IdempotencyRecord),
	}
}

func idempotencyKeyOf(scope book.Scope, key book.IdempotencyKey) string {
	return scope.String() + "|" + key.String()
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore book.Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()

	store.mu.Lock()
	saved := store.snapshotLocked()
	store.mu.Unlock()

	err := fn(ctx, txStore{Store: store})
	if err != nil {
		store.mu.Lock()
		store.restoreLocked(saved)
		store.mu.Unlock()
	}
	return err
}

// txStore marks an open transaction. A nested WithTx joins it instead of
// re-acquiring txMu, so the outermost snapshot stays authoritative.
type txStore struct {
	*Store
}

func (tx txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore book.Store) error) error {
	return fn(ctx, tx)
}

type snapshot struct {
	accounts     map[string]book.Account
	transactions map[string]book.Transaction
	entries      []book.Entry
	balances     map[string]book.AccountBalance
	idempotency  map[string]book.IdempotencyRecord
}

func (store *Store) snapshotLocked() snapshot {
	copied := snapshot{
		accounts:     make(map[string]book.Account, len(store.accounts)),
		transactions: make(map[string]book.Transaction, len(store.transactions)),
		entries:      append([]book.Entry(nil), store.entries...),
		balances:     make(map[string]book.AccountBalance, len(store.balances)),
		idempotency:  make(map[string]book.IdempotencyRecord, len(store.idempotency)),
	}
	for key, value := range store.accounts {
		copied.accounts[key] = value
	}
	for key, value := range store.transactions {
		copied.transactions[key] = value
	}
	for key, value := range store.balances {
		copied.balances[key] = value
	}
	for key, value := range store.idempotency {
		copied.idempotency[key] = value
	}
	return copied
}

func (store *Store) restoreLocked(saved snapshot) {
	store.accounts = saved.accounts
	store.transactions = saved.transactions
	store.entries = saved.entries
	store.balances = saved.balances
	store.idempotency = saved.idempotency
}

func (store *Store) CreateAccount(_ context.Context, account book.Account) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.accounts {
		if existing.Scope == account.Scope && existing.OwnerRef == account.OwnerRef {
			return book.ErrAccountExists
		}
	}
	store.accounts[account.AccountID.String()] = account
	store.balances[account.AccountID.String()] = book.AccountBalance{
		AccountID: account.AccountID,
		Scope:     account.Scope,
	}
	return nil
}

func (store *Store) GetAccount(_ context.Context, scope book.Scope, accountID book.AccountID) (book.Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[accountID.String()]
	if !ok {
		return book.Account{}, book.ErrUnknownAccount
	}
	if account.Scope != scope {
		return book.Account{}, book.ErrForeignScopeAccount
	}
	return account, nil
}

func (store *Store) FindAccountByOwner(_ context.Context, scope book.Scope, ownerRef string) (book.Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, account := range store.accounts {
		if account.Scope == scope && account.OwnerRef == ownerRef {
			return account, nil
		}
	}
	return book.Account{}, book.ErrUnknownAccount
}

func (store *Store) GetOrCreateControlAccount(ctx context.Context, scope book.Scope, currency book.Currency) (book.Account, error) {
	ownerRef := "control:" + currency.String()
	account, err := store.FindAccountByOwner(ctx, scope, ownerRef)
	if err == nil {
		return account, nil
	}
	accountID, err := book.NewAccountID(fmt.Sprintf("control-%s-%s", scope.String(), currency.String()))
	if err != nil {
		return book.Account{}, err
	}
	created := book.Account{
		AccountID: accountID,
		Scope:     scope,
		OwnerRef:  ownerRef,
		Type:      book.AccountControl,
		Currency:  currency,
		Status:    book.AccountActive,
	}
	if err := store.CreateAccount(ctx, created); err != nil {
		return book.Account{}, err
	}
	return created, nil
}

func (store *Store) UpdateAccountStatus(_ context.Context, scope book.Scope, accountID book.AccountID, from, to book.AccountStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[accountID.String()]
	if !ok || account.Scope != scope || account.Status != from {
		return book.ErrImmutableRecord
	}
	account.Status = to
	store.accounts[accountID.String()] = account
	return nil
}

func (store *Store) CreateTransaction(_ context.Context, transaction book.Transaction) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.transactions[transaction.TransactionID.String()]; exists {
		return book.ErrDuplicateIdempotency
	}
	store.transactions[transaction.TransactionID.String()] = transaction
	return nil
}

func (store *Store) GetTransaction(_ context.Context, scope book.Scope, transactionID book.TransactionID) (book.Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction, ok := store.transactions[transactionID.String()]
	if !ok || transaction.Scope != scope {
		return book.Transaction{}, book.ErrUnknownTransaction
	}
	return transaction, nil
}

func (store *Store) UpdateTransactionStatus(_ context.Context, scope book.Scope, transactionID book.TransactionID, from, to book.TransactionStatus, reason book.FailureReason) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction, ok := store.transactions[transactionID.String()]
	if !ok || transaction.Scope != scope {
		return book.ErrUnknownTransaction
	}
	if transaction.Status != from {
		return book.ErrImmutableRecord
	}
	transaction.Status = to
	transaction.FailureReason = reason
	store.transactions[transactionID.String()] = transaction
	return nil
}

func (store *Store) ListPendingTransactions(_ context.Context, olderThanUnixUTC int64, limit int) ([]book.Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	pending := make([]book.Transaction, 0)
	for _, transaction := range store.transactions {
		if transaction.Status == book.StatusPending && transaction.CreatedUnixUTC < olderThanUnixUTC {
			pending = append(pending, transaction)
		}
	}
	sort.Slice(pending, func(left, right int) bool {
		return pending[left].CreatedUnixUTC < pending[right].CreatedUnixUTC
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (store *Store) IncrementReconcileAttempts(_ context.Context, scope book.Scope, transactionID book.TransactionID) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction, ok := store.transactions[transactionID.String()]
	if !ok || transaction.Scope != scope || transaction.Status != book.StatusPending {
		return 0, book.ErrImmutableRecord
	}
	transaction.ReconcileAttempts++
	store.transactions[transactionID.String()] = transaction
	return transaction.ReconcileAttempts, nil
}

func (store *Store) InsertEntries(_ context.Context, entries []book.Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries = append(store.entries, entries...)
	return nil
}

func (store *Store) ListTransactionEntries(_ context.Context, scope book.Scope, transactionID book.TransactionID) ([]book.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]book.Entry, 0)
	for _, entry := range store.entries {
		if entry.TransactionID == transactionID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (store *Store) ListAccountEntries(_ context.Context, scope book.Scope, accountID book.AccountID, beforeUnixUTC int64, limit int) ([]book.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matched := make([]book.Entry, 0)
	for _, entry := range store.entries {
		if entry.AccountID != accountID {
			continue
		}
		if beforeUnixUTC > 0 && entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(left, right int) bool {
		return matched[left].CreatedUnixUTC > matched[right].CreatedUnixUTC
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *Store) GetBalanceForUpdate(ctx context.Context, scope book.Scope, accountID book.AccountID) (book.AccountBalance, error) {
	return store.GetBalance(ctx, scope, accountID)
}

func (store *Store) GetBalance(_ context.Context, scope book.Scope, accountID book.AccountID) (book.AccountBalance, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, ok := store.balances[accountID.String()]
	if !ok || balance.Scope != scope {
		return book.AccountBalance{}, book.ErrUnknownAccount
	}
	return balance, nil
}

func (store *Store) ApplyBalanceDelta(_ context.Context, scope book.Scope, accountID book.AccountID, delta int64, expectVersion int64, atUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, ok := store.balances[accountID.String()]
	if !ok || balance.Scope != scope || balance.Version != expectVersion {
		return book.ErrImmutableRecord
	}
	balance.BalanceMinor += delta
	balance.Version++
	balance.UpdatedUnixUTC = atUnixUTC
	store.balances[accountID.String()] = balance
	return nil
}

func (store *Store) GetIdempotencyRecord(_ context.Context, scope book.Scope, key book.IdempotencyKey) (book.IdempotencyRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.idempotency[idempotencyKeyOf(scope, key)]
	if !ok {
		return book.IdempotencyRecord{}, book.ErrUnknownIdempotency
	}
	return record, nil
}

func (store *Store) CreateIdempotencyRecord(_ context.Context, record book.IdempotencyRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	mapKey := idempotencyKeyOf(record.Scope, record.Key)
	if _, exists := store.idempotency[mapKey]; exists {
		return book.ErrDuplicateIdempotency
	}
	store.idempotency[mapKey] = record
	return nil
}
