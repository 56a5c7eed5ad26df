package initiator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/bookkeeper/internal/initiator"
	"github.com/MarkoPoloResearchLab/bookkeeper/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"go.uber.org/zap"
)

type initiatorFixture struct {
	store     *memstore.Store
	service   *initiator.Service
	engine    *book.Service
	scope     book.Scope
	currency  book.Currency
	alice     book.AccountID
	bob       book.AccountID
	metadata  book.MetadataJSON
	clockTick int64
}

func newInitiatorFixture(test *testing.T) *initiatorFixture {
	test.Helper()
	fixture := &initiatorFixture{store: memstore.New(), clockTick: 1000}
	clock := func() int64 {
		fixture.clockTick++
		return fixture.clockTick
	}

	engine, err := book.NewService(fixture.store, clock)
	if err != nil {
		test.Fatalf("engine: %v", err)
	}
	fixture.engine = engine

	service, err := initiator.NewService(fixture.store, engine, clock, zap.NewNop())
	if err != nil {
		test.Fatalf("initiator: %v", err)
	}
	fixture.service = service

	fixture.scope = mustScope(test, "acme", "sandbox")
	fixture.currency = mustCurrency(test, "USD")
	fixture.alice = seedAccount(test, fixture.store, fixture.scope, "alice", fixture.currency)
	fixture.bob = seedAccount(test, fixture.store, fixture.scope, "bob", fixture.currency)

	metadata, err := book.NewMetadataJSON(`{"channel":"test"}`)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	fixture.metadata = metadata
	return fixture
}

func mustScope(test *testing.T, organization string, environment string) book.Scope {
	test.Helper()
	scope, err := book.NewScope(organization, environment)
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	return scope
}

func mustCurrency(test *testing.T, raw string) book.Currency {
	test.Helper()
	currency, err := book.NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func mustKey(test *testing.T, raw string) book.IdempotencyKey {
	test.Helper()
	key, err := book.NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustAmount(test *testing.T, raw int64) book.AmountMinor {
	test.Helper()
	amount, err := book.NewAmountMinor(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func seedAccount(test *testing.T, store book.Store, scope book.Scope, id string, currency book.Currency) book.AccountID {
	test.Helper()
	accountID, err := book.NewAccountID(id)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	createErr := store.CreateAccount(context.Background(), book.Account{
		AccountID: accountID,
		Scope:     scope,
		OwnerRef:  "user:" + id,
		Type:      book.AccountLiability,
		Currency:  currency,
		Status:    book.AccountActive,
	})
	if createErr != nil {
		test.Fatalf("seed account: %v", createErr)
	}
	return accountID
}

func (fixture *initiatorFixture) balanceOf(test *testing.T, accountID book.AccountID) int64 {
	test.Helper()
	balance, err := fixture.store.GetBalance(context.Background(), fixture.scope, accountID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance.BalanceMinor
}

func TestDepositPostsSynchronously(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)

	result, err := fixture.service.Deposit(context.Background(), fixture.scope, mustKey(test, "dep-1"), fixture.alice, mustAmount(test, 10000), fixture.currency, fixture.metadata)
	if err != nil {
		test.Fatalf("deposit: %v", err)
	}
	if result.Status != book.StatusPosted {
		test.Fatalf("expected posted, got %s", result.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 10000 {
		test.Fatalf("expected balance 10000, got %d", got)
	}
}

func TestIdempotentReplayReturnsSameTransaction(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)
	key := mustKey(test, "dep-replay")
	amount := mustAmount(test, 4200)

	first, err := fixture.service.Deposit(context.Background(), fixture.scope, key, fixture.alice, amount, fixture.currency, fixture.metadata)
	if err != nil {
		test.Fatalf("first deposit: %v", err)
	}
	second, err := fixture.service.Deposit(context.Background(), fixture.scope, key, fixture.alice, amount, fixture.currency, fixture.metadata)
	if err != nil {
		test.Fatalf("replay deposit: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		test.Fatalf("replay must reuse the transaction, got %s and %s", first.TransactionID, second.TransactionID)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 4200 {
		test.Fatalf("replay must not double-apply, got %d", got)
	}
}

func TestIdempotencyKeyReuseWithDifferentPayloadConflicts(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)
	key := mustKey(test, "dep-conflict")

	if _, err := fixture.service.Deposit(context.Background(), fixture.scope, key, fixture.alice, mustAmount(test, 100), fixture.currency, fixture.metadata); err != nil {
		test.Fatalf("first deposit: %v", err)
	}
	_, err := fixture.service.Deposit(context.Background(), fixture.scope, key, fixture.alice, mustAmount(test, 999), fixture.currency, fixture.metadata)
	if !errors.Is(err, book.ErrIdempotencyConflict) {
		test.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestWithdrawalRejectedWhenInsufficient(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)
	if _, err := fixture.service.Deposit(context.Background(), fixture.scope, mustKey(test, "seed"), fixture.alice, mustAmount(test, 500), fixture.currency, fixture.metadata); err != nil {
		test.Fatalf("seed deposit: %v", err)
	}

	result, err := fixture.service.Withdraw(context.Background(), fixture.scope, mustKey(test, "wd-over"), fixture.alice, mustAmount(test, 600), fixture.currency, fixture.metadata)
	if !errors.Is(err, book.ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if result.Status != book.StatusFailed {
		test.Fatalf("expected failed, got %s", result.Status)
	}
	if result.FailureReason != book.ReasonInsufficientFunds {
		test.Fatalf("expected reason insufficient_funds, got %s", result.FailureReason)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 500 {
		test.Fatalf("expected balance unchanged at 500, got %d", got)
	}
}

func TestWithdrawalMovesFundsBackToControl(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)
	if _, err := fixture.service.Deposit(context.Background(), fixture.scope, mustKey(test, "seed"), fixture.alice, mustAmount(test, 15000), fixture.currency, fixture.metadata); err != nil {
		test.Fatalf("seed deposit: %v", err)
	}

	result, err := fixture.service.Withdraw(context.Background(), fixture.scope, mustKey(test, "wd-1"), fixture.alice, mustAmount(test, 7500), fixture.currency, fixture.metadata)
	if err != nil {
		test.Fatalf("withdraw: %v", err)
	}
	if result.Status != book.StatusPosted {
		test.Fatalf("expected posted, got %s", result.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 7500 {
		test.Fatalf("expected balance 7500, got %d", got)
	}
}

func TestTransferDebitsSourceCreditsDestination(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)
	if _, err := fixture.service.Deposit(context.Background(), fixture.scope, mustKey(test, "seed-a"), fixture.alice, mustAmount(test, 15000), fixture.currency, fixture.metadata); err != nil {
		test.Fatalf("seed alice: %v", err)
	}
	if _, err := fixture.service.Deposit(context.Background(), fixture.scope, mustKey(test, "seed-b"), fixture.bob, mustAmount(test, 10000), fixture.currency, fixture.metadata); err != nil {
		test.Fatalf("seed bob: %v", err)
	}

	result, err := fixture.service.Transfer(context.Background(), fixture.scope, mustKey(test, "tr-1"), fixture.alice, fixture.bob, mustAmount(test, 2500), fixture.currency, fixture.metadata)
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if result.Status != book.StatusPosted {
		test.Fatalf("expected posted, got %s", result.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 12500 {
		test.Fatalf("expected alice 12500, got %d", got)
	}
	if got := fixture.balanceOf(test, fixture.bob); got != 12500 {
		test.Fatalf("expected bob 12500, got %d", got)
	}
}

// flakyEngine fails with a transport error until recovered.
type flakyEngine struct {
	inner     *book.Service
	available bool
}

func (engine *flakyEngine) Post(ctx context.Context, scope book.Scope, transactionID book.TransactionID, externalRef string, entries []book.EntryInput) (book.Transaction, error) {
	if !engine.available {
		return book.Transaction{}, book.ErrTransientDependency
	}
	return engine.inner.Post(ctx, scope, transactionID, externalRef, entries)
}

func (engine *flakyEngine) GetTransaction(ctx context.Context, scope book.Scope, transactionID book.TransactionID) (book.Transaction, error) {
	if !engine.available {
		return book.Transaction{}, book.ErrTransientDependency
	}
	return engine.inner.GetTransaction(ctx, scope, transactionID)
}

func TestTransientEngineFailureLeavesTransactionPending(test *testing.T) {
	test.Parallel()
	fixture := newInitiatorFixture(test)
	engine := &flakyEngine{inner: fixture.engine, available: false}
	service, err := initiator.NewService(fixture.store, engine, func() int64 { return 2000 }, zap.NewNop())
	if err != nil {
		test.Fatalf("initiator: %v", err)
	}

	result, err := service.Deposit(context.Background(), fixture.scope, mustKey(test, "dep-flaky"), fixture.alice, mustAmount(test, 800), fixture.currency, fixture.metadata)
	if err != nil {
		test.Fatalf("deposit during outage should not error, got %v", err)
	}
	if result.Status != book.StatusPending {
		test.Fatalf("expected pending, got %s", result.Status)
	}

	status, err := service.GetStatus(context.Background(), fixture.scope, result.TransactionID)
	if err != nil {
		test.Fatalf("get status: %v", err)
	}
	if status.Status != book.StatusPending {
		test.Fatalf("expected stored pending, got %s", status.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 0 {
		test.Fatalf("no balance movement expected during outage, got %d", got)
	}
}
