package gormstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/bookkeeper/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
)

type sqliteFixture struct {
	store    *gormstore.Store
	db       *gorm.DB
	scope    book.Scope
	currency book.Currency
	alice    book.AccountID
	control  book.AccountID
}

func newSQLiteFixture(test *testing.T) *sqliteFixture {
	test.Helper()
	path := filepath.Join(test.TempDir(), "ledger.db")
	db, cleanup, driver, err := gormstore.Open(context.Background(), path)
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	test.Cleanup(func() { _ = cleanup() })
	if driver != gormstore.DriverSQLite {
		test.Fatalf("expected sqlite driver, got %s", driver)
	}
	if err := gormstore.Migrate(db, driver); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	store := gormstore.New(db)
	scope, err := book.NewScope("acme", "sandbox")
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	currency, err := book.NewCurrency("USD")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	alice, err := book.NewAccountID("11111111-1111-4111-8111-111111111111")
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	createErr := store.CreateAccount(context.Background(), book.Account{
		AccountID:      alice,
		Scope:          scope,
		OwnerRef:       "user:alice",
		Type:           book.AccountLiability,
		Currency:       currency,
		Status:         book.AccountActive,
		CreatedUnixUTC: 1000,
	})
	if createErr != nil {
		test.Fatalf("seed account: %v", createErr)
	}
	control, err := store.GetOrCreateControlAccount(context.Background(), scope, currency)
	if err != nil {
		test.Fatalf("control account: %v", err)
	}

	return &sqliteFixture{
		store:    store,
		db:       db,
		scope:    scope,
		currency: currency,
		alice:    alice,
		control:  control.AccountID,
	}
}

// postedDeposit seeds a posted transaction with its entry pair through the
// store, the same path the posting engine takes.
func (fixture *sqliteFixture) postedDeposit(test *testing.T, rawID string, amount int64) book.TransactionID {
	test.Helper()
	ctx := context.Background()
	transactionID, err := book.NewTransactionID(rawID)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	createErr := fixture.store.CreateTransaction(ctx, book.Transaction{
		TransactionID:  transactionID,
		Scope:          fixture.scope,
		ExternalRef:    "deposit",
		Status:         book.StatusPending,
		RequestJSON:    `{}`,
		CreatedUnixUTC: 1000,
		UpdatedUnixUTC: 1000,
	})
	if createErr != nil {
		test.Fatalf("create transaction: %v", createErr)
	}
	amountMinor, err := book.NewAmountMinor(amount)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	insertErr := fixture.store.InsertEntries(ctx, []book.Entry{
		{
			TransactionID:  transactionID,
			AccountID:      fixture.control,
			Direction:      book.DirectionDebit,
			AmountMinor:    amountMinor,
			Currency:       fixture.currency,
			CreatedUnixUTC: 1001,
		},
		{
			TransactionID:  transactionID,
			AccountID:      fixture.alice,
			Direction:      book.DirectionCredit,
			AmountMinor:    amountMinor,
			Currency:       fixture.currency,
			CreatedUnixUTC: 1001,
		},
	})
	if insertErr != nil {
		test.Fatalf("insert entries: %v", insertErr)
	}
	statusErr := fixture.store.UpdateTransactionStatus(ctx, fixture.scope, transactionID, book.StatusPending, book.StatusPosted, book.ReasonNone)
	if statusErr != nil {
		test.Fatalf("post transaction: %v", statusErr)
	}
	return transactionID
}

func requireImmutableExecError(test *testing.T, err error) {
	test.Helper()
	if err == nil {
		test.Fatalf("expected the database guard to reject the statement")
	}
	if !strings.Contains(err.Error(), "immutable") {
		test.Fatalf("expected an immutability rejection, got %v", err)
	}
}

func TestGuardsRejectPostedEntryRewrite(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)
	transactionID := fixture.postedDeposit(test, "21111111-1111-4111-8111-111111111111", 5000)

	// Raw SQL bypasses the model hooks, so only the triggers stand
	// between a rogue statement and the ledger.
	err := fixture.db.Exec(
		"UPDATE ledger_entries SET amount_minor = 1 WHERE transaction_id = ?",
		transactionID.String(),
	).Error
	requireImmutableExecError(test, err)

	entries, listErr := fixture.store.ListTransactionEntries(context.Background(), fixture.scope, transactionID)
	if listErr != nil {
		test.Fatalf("list entries: %v", listErr)
	}
	for _, entry := range entries {
		if entry.AmountMinor.Int64() != 5000 {
			test.Fatalf("entry amount changed to %d", entry.AmountMinor.Int64())
		}
	}
}

func TestGuardsRejectPostedEntryDelete(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)
	transactionID := fixture.postedDeposit(test, "22111111-1111-4111-8111-111111111111", 5000)

	err := fixture.db.Exec(
		"DELETE FROM ledger_entries WHERE transaction_id = ?",
		transactionID.String(),
	).Error
	requireImmutableExecError(test, err)

	entries, listErr := fixture.store.ListTransactionEntries(context.Background(), fixture.scope, transactionID)
	if listErr != nil {
		test.Fatalf("list entries: %v", listErr)
	}
	if len(entries) != 2 {
		test.Fatalf("expected both entries to survive, got %d", len(entries))
	}
}

func TestGuardsRejectTerminalTransactionFlip(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)
	transactionID := fixture.postedDeposit(test, "23111111-1111-4111-8111-111111111111", 5000)

	err := fixture.db.Exec(
		"UPDATE ledger_transactions SET status = 'pending' WHERE transaction_id = ?",
		transactionID.String(),
	).Error
	requireImmutableExecError(test, err)

	statusErr := fixture.store.UpdateTransactionStatus(context.Background(), fixture.scope, transactionID, book.StatusPending, book.StatusFailed, book.ReasonReconciliationTimeout)
	if !errors.Is(statusErr, book.ErrImmutableRecord) {
		test.Fatalf("expected ErrImmutableRecord on a posted transaction, got %v", statusErr)
	}

	transaction, getErr := fixture.store.GetTransaction(context.Background(), fixture.scope, transactionID)
	if getErr != nil {
		test.Fatalf("get transaction: %v", getErr)
	}
	if transaction.Status != book.StatusPosted {
		test.Fatalf("expected the transaction to stay posted, got %s", transaction.Status)
	}
}

func TestGuardsRejectLedgerRowDeletes(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)
	transactionID := fixture.postedDeposit(test, "24111111-1111-4111-8111-111111111111", 5000)

	err := fixture.db.Exec(
		"DELETE FROM ledger_transactions WHERE transaction_id = ?",
		transactionID.String(),
	).Error
	requireImmutableExecError(test, err)

	err = fixture.db.Exec(
		"DELETE FROM ledger_accounts WHERE account_id = ?",
		fixture.alice.String(),
	).Error
	requireImmutableExecError(test, err)
}

func TestCreateAccountAlsoCreatesItsBalanceRow(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)

	balance, err := fixture.store.GetBalance(context.Background(), fixture.scope, fixture.alice)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.BalanceMinor != 0 || balance.Version != 0 {
		test.Fatalf("expected a fresh zero balance, got %+v", balance)
	}
}

func TestCreateAccountDuplicateLeavesExistingRowsIntact(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)

	err := fixture.store.CreateAccount(context.Background(), book.Account{
		AccountID:      fixture.alice,
		Scope:          fixture.scope,
		OwnerRef:       "user:alice",
		Type:           book.AccountLiability,
		Currency:       fixture.currency,
		Status:         book.AccountActive,
		CreatedUnixUTC: 2000,
	})
	if !errors.Is(err, book.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}

	balance, balanceErr := fixture.store.GetBalance(context.Background(), fixture.scope, fixture.alice)
	if balanceErr != nil {
		test.Fatalf("balance after duplicate create: %v", balanceErr)
	}
	if balance.BalanceMinor != 0 {
		test.Fatalf("duplicate create disturbed the balance row: %+v", balance)
	}
}

func TestControlAccountCreationIsIdempotent(test *testing.T) {
	test.Parallel()
	fixture := newSQLiteFixture(test)

	again, err := fixture.store.GetOrCreateControlAccount(context.Background(), fixture.scope, fixture.currency)
	if err != nil {
		test.Fatalf("control account: %v", err)
	}
	if again.AccountID != fixture.control {
		test.Fatalf("expected the existing control account %s, got %s", fixture.control, again.AccountID)
	}
	balance, balanceErr := fixture.store.GetBalance(context.Background(), fixture.scope, fixture.control)
	if balanceErr != nil {
		test.Fatalf("control balance: %v", balanceErr)
	}
	if balance.BalanceMinor != 0 {
		test.Fatalf("expected a zero control balance, got %d", balance.BalanceMinor)
	}
}
