package book_test

import (
	"context"
	"testing"

	"github.com/MarkoPoloResearchLab/bookkeeper/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
)

func mustScope(test *testing.T, organization string, environment string) book.Scope {
	test.Helper()
	scope, err := book.NewScope(organization, environment)
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	return scope
}

func mustAccountID(test *testing.T, raw string) book.AccountID {
	test.Helper()
	id, err := book.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return id
}

func mustTransactionID(test *testing.T, raw string) book.TransactionID {
	test.Helper()
	id, err := book.NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return id
}

func mustCurrency(test *testing.T, raw string) book.Currency {
	test.Helper()
	currency, err := book.NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func mustAmount(test *testing.T, raw int64) book.AmountMinor {
	test.Helper()
	amount, err := book.NewAmountMinor(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustEntry(test *testing.T, accountID book.AccountID, direction book.EntryDirection, amount int64, currency book.Currency) book.EntryInput {
	test.Helper()
	entry, err := book.NewEntryInput(accountID, direction, mustAmount(test, amount), currency)
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	return entry
}

func mustNewService(test *testing.T, store book.Store, options ...book.ServiceOption) *book.Service {
	test.Helper()
	var tick int64 = 1000
	service, err := book.NewService(store, func() int64 {
		tick++
		return tick
	}, options...)
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

// newLedgerFixture seeds a scope with a customer account, a counterparty
// customer account, and the USD control account.
type ledgerFixture struct {
	store    *memstore.Store
	service  *book.Service
	scope    book.Scope
	currency book.Currency
	alice    book.AccountID
	bob      book.AccountID
	control  book.AccountID
}

func newLedgerFixture(test *testing.T) *ledgerFixture {
	test.Helper()
	store := memstore.New()
	service := mustNewService(test, store)
	scope := mustScope(test, "acme", "sandbox")
	currency := mustCurrency(test, "USD")

	alice := seedAccount(test, store, scope, "alice", "user:alice", book.AccountLiability, currency)
	bob := seedAccount(test, store, scope, "bob", "user:bob", book.AccountLiability, currency)

	control, err := store.GetOrCreateControlAccount(context.Background(), scope, currency)
	if err != nil {
		test.Fatalf("control account: %v", err)
	}

	return &ledgerFixture{
		store:    store,
		service:  service,
		scope:    scope,
		currency: currency,
		alice:    alice,
		bob:      bob,
		control:  control.AccountID,
	}
}

func seedAccount(test *testing.T, store book.Store, scope book.Scope, id string, ownerRef string, accountType book.AccountType, currency book.Currency) book.AccountID {
	test.Helper()
	accountID := mustAccountID(test, id)
	err := store.CreateAccount(context.Background(), book.Account{
		AccountID: accountID,
		Scope:     scope,
		OwnerRef:  ownerRef,
		Type:      accountType,
		Currency:  currency,
		Status:    book.AccountActive,
	})
	if err != nil {
		test.Fatalf("seed account %s: %v", id, err)
	}
	return accountID
}

// deposit posts a control-debit, customer-credit pair.
func (fixture *ledgerFixture) deposit(test *testing.T, transactionID string, accountID book.AccountID, amount int64) book.Transaction {
	test.Helper()
	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, transactionID), "deposit", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, amount, fixture.currency),
		mustEntry(test, accountID, book.DirectionCredit, amount, fixture.currency),
	})
	if err != nil {
		test.Fatalf("deposit %s: %v", transactionID, err)
	}
	return transaction
}

func (fixture *ledgerFixture) balanceOf(test *testing.T, accountID book.AccountID) int64 {
	test.Helper()
	balance, err := fixture.service.Balance(context.Background(), fixture.scope, accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance.BalanceMinor
}
