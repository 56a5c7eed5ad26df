package book_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
)

func TestPostBalancedPairUpdatesBothBalances(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	transaction := fixture.deposit(test, "tx-1", fixture.alice, 10000)

	if transaction.Status != book.StatusPosted {
		test.Fatalf("expected posted, got %s", transaction.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 10000 {
		test.Fatalf("expected alice balance 10000, got %d", got)
	}
	if got := fixture.balanceOf(test, fixture.control); got != 10000 {
		test.Fatalf("expected control balance 10000, got %d", got)
	}
	entries, err := fixture.service.ListTransactionEntries(context.Background(), fixture.scope, transaction.TransactionID)
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestPostRejectsSingleEntry(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-single"), "", []book.EntryInput{
		mustEntry(test, fixture.alice, book.DirectionCredit, 100, fixture.currency),
	})
	if !errors.Is(err, book.ErrTooFewEntries) {
		test.Fatalf("expected ErrTooFewEntries, got %v", err)
	}
	if transaction.Status != book.StatusFailed {
		test.Fatalf("expected failed, got %s", transaction.Status)
	}
	if transaction.FailureReason != book.ReasonTooFewEntries {
		test.Fatalf("expected reason too_few_entries, got %s", transaction.FailureReason)
	}
}

func TestPostRejectsUnbalancedEntries(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-unbalanced"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 10000, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 8000, fixture.currency),
	})
	if !errors.Is(err, book.ErrUnbalancedEntries) {
		test.Fatalf("expected ErrUnbalancedEntries, got %v", err)
	}
	if transaction.FailureReason != book.ReasonUnbalancedEntries {
		test.Fatalf("expected reason unbalanced_entries, got %s", transaction.FailureReason)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 0 {
		test.Fatalf("failed posting must not move balances, got %d", got)
	}
	entries, listErr := fixture.service.ListTransactionEntries(context.Background(), fixture.scope, transaction.TransactionID)
	if listErr != nil {
		test.Fatalf("list entries: %v", listErr)
	}
	if len(entries) != 0 {
		test.Fatalf("failed posting must not write entries, got %d", len(entries))
	}
}

func TestPostRejectsThreeEntryImbalance(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	_, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-three"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 5000, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 3000, fixture.currency),
		mustEntry(test, fixture.bob, book.DirectionCredit, 1500, fixture.currency),
	})
	if !errors.Is(err, book.ErrUnbalancedEntries) {
		test.Fatalf("expected ErrUnbalancedEntries, got %v", err)
	}
}

func TestPostRejectsCurrencyMismatch(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	euro := mustCurrency(test, "EUR")

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-mixed"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 1000, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 1000, euro),
	})
	if !errors.Is(err, book.ErrCurrencyMismatch) {
		test.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if transaction.FailureReason != book.ReasonCurrencyMismatch {
		test.Fatalf("expected reason currency_mismatch, got %s", transaction.FailureReason)
	}
}

func TestPostRejectsEntryCurrencyForeignToAccount(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	euro := mustCurrency(test, "EUR")
	euroAccount := seedAccount(test, fixture.store, fixture.scope, "claire", "user:claire", book.AccountLiability, euro)

	_, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-acct-ccy"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 1000, fixture.currency),
		mustEntry(test, euroAccount, book.DirectionCredit, 1000, fixture.currency),
	})
	if !errors.Is(err, book.ErrCurrencyMismatch) {
		test.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestPostRejectsUnknownAccount(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-ghost"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 1000, fixture.currency),
		mustEntry(test, mustAccountID(test, "ghost"), book.DirectionCredit, 1000, fixture.currency),
	})
	if !errors.Is(err, book.ErrUnknownAccount) {
		test.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
	if transaction.FailureReason != book.ReasonUnknownAccount {
		test.Fatalf("expected reason unknown_account, got %s", transaction.FailureReason)
	}
}

func TestPostRejectsForeignScopeAccount(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	otherScope := mustScope(test, "rival", "sandbox")
	foreign := seedAccount(test, fixture.store, otherScope, "foreign", "user:foreign", book.AccountLiability, fixture.currency)

	_, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-foreign"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 1000, fixture.currency),
		mustEntry(test, foreign, book.DirectionCredit, 1000, fixture.currency),
	})
	if !errors.Is(err, book.ErrForeignScopeAccount) {
		test.Fatalf("expected ErrForeignScopeAccount, got %v", err)
	}
}

func TestPostRejectsClosedAccount(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	if err := fixture.service.CloseAccount(context.Background(), fixture.scope, fixture.alice); err != nil {
		test.Fatalf("close account: %v", err)
	}

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-closed"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 1000, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 1000, fixture.currency),
	})
	if !errors.Is(err, book.ErrAccountClosed) {
		test.Fatalf("expected ErrAccountClosed, got %v", err)
	}
	if transaction.FailureReason != book.ReasonAccountClosed {
		test.Fatalf("expected reason account_closed, got %s", transaction.FailureReason)
	}
}

func TestPostRejectsCustomerOverdraw(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	fixture.deposit(test, "tx-fund", fixture.alice, 5000)

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-overdraw"), "withdrawal", []book.EntryInput{
		mustEntry(test, fixture.alice, book.DirectionDebit, 6000, fixture.currency),
		mustEntry(test, fixture.control, book.DirectionCredit, 6000, fixture.currency),
	})
	if !errors.Is(err, book.ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if transaction.FailureReason != book.ReasonInsufficientFunds {
		test.Fatalf("expected reason insufficient_funds, got %s", transaction.FailureReason)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 5000 {
		test.Fatalf("expected alice balance unchanged at 5000, got %d", got)
	}
}

func TestPostReplaySameTransactionIDDoesNotDoubleApply(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	first := fixture.deposit(test, "tx-replay", fixture.alice, 2500)
	second := fixture.deposit(test, "tx-replay", fixture.alice, 2500)

	if first.TransactionID != second.TransactionID {
		test.Fatalf("replay must return the same transaction")
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 2500 {
		test.Fatalf("replay must not double-apply, got balance %d", got)
	}
	entries, err := fixture.service.ListTransactionEntries(context.Background(), fixture.scope, first.TransactionID)
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("replay must not duplicate entries, got %d", len(entries))
	}
}

func TestPostReplayOfFailedTransactionReturnsSameOutcome(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)

	_, firstErr := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-failrepeat"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 900, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 300, fixture.currency),
	})
	if !errors.Is(firstErr, book.ErrUnbalancedEntries) {
		test.Fatalf("expected ErrUnbalancedEntries, got %v", firstErr)
	}

	// Replay with a now-valid entry set under the same id: the recorded
	// failure wins, the book never re-judges a terminal transaction.
	replay, replayErr := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-failrepeat"), "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 300, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 300, fixture.currency),
	})
	if !errors.Is(replayErr, book.ErrUnbalancedEntries) {
		test.Fatalf("expected replayed ErrUnbalancedEntries, got %v", replayErr)
	}
	if replay.Status != book.StatusFailed {
		test.Fatalf("expected failed, got %s", replay.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 0 {
		test.Fatalf("replay of failed transaction must not post, got %d", got)
	}
}

func TestTransferMovesFundsBetweenCustomers(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	fixture.deposit(test, "tx-fund-alice", fixture.alice, 15000)
	fixture.deposit(test, "tx-fund-bob", fixture.bob, 10000)

	transaction, err := fixture.service.Post(context.Background(), fixture.scope, mustTransactionID(test, "tx-transfer"), "transfer", []book.EntryInput{
		mustEntry(test, fixture.alice, book.DirectionDebit, 2500, fixture.currency),
		mustEntry(test, fixture.bob, book.DirectionCredit, 2500, fixture.currency),
	})
	if err != nil {
		test.Fatalf("transfer: %v", err)
	}
	if transaction.Status != book.StatusPosted {
		test.Fatalf("expected posted, got %s", transaction.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 12500 {
		test.Fatalf("expected alice 12500, got %d", got)
	}
	if got := fixture.balanceOf(test, fixture.bob); got != 12500 {
		test.Fatalf("expected bob 12500, got %d", got)
	}
	// The control account never moved: customer-to-customer transfers
	// stay inside the book.
	if got := fixture.balanceOf(test, fixture.control); got != 25000 {
		test.Fatalf("expected control 25000, got %d", got)
	}
}

type recordingPublisher struct {
	events []book.TransactionEvent
}

func (publisher *recordingPublisher) PublishTransactionEvent(_ context.Context, event book.TransactionEvent) error {
	publisher.events = append(publisher.events, event)
	return nil
}

func TestPostPublishesTerminalEventOnce(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	publisher := &recordingPublisher{}
	service := mustNewService(test, fixture.store, book.WithEventPublisher(publisher))

	transactionID := mustTransactionID(test, "tx-event")
	entries := []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 700, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 700, fixture.currency),
	}
	if _, err := service.Post(context.Background(), fixture.scope, transactionID, "", entries); err != nil {
		test.Fatalf("post: %v", err)
	}
	if _, err := service.Post(context.Background(), fixture.scope, transactionID, "", entries); err != nil {
		test.Fatalf("replay: %v", err)
	}

	if len(publisher.events) != 1 {
		test.Fatalf("expected exactly one event, got %d", len(publisher.events))
	}
	if publisher.events[0].Type != book.EventTransactionPosted {
		test.Fatalf("expected transaction.posted, got %s", publisher.events[0].Type)
	}
	if publisher.events[0].TransactionID != transactionID.String() {
		test.Fatalf("unexpected event transaction id %s", publisher.events[0].TransactionID)
	}
}

func TestConcurrentTransfersCannotJointlyOverdraw(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	fixture.deposit(test, "tx-fund-race", fixture.alice, 10000)

	entries := []book.EntryInput{
		mustEntry(test, fixture.alice, book.DirectionDebit, 7000, fixture.currency),
		mustEntry(test, fixture.bob, book.DirectionCredit, 7000, fixture.currency),
	}
	transactionIDs := []book.TransactionID{
		mustTransactionID(test, "tx-race-1"),
		mustTransactionID(test, "tx-race-2"),
	}
	outcomes := make(chan book.Transaction, len(transactionIDs))
	var group sync.WaitGroup
	for _, transactionID := range transactionIDs {
		group.Add(1)
		go func(transactionID book.TransactionID) {
			defer group.Done()
			transaction, err := fixture.service.Post(context.Background(), fixture.scope, transactionID, "transfer", entries)
			if err != nil && !errors.Is(err, book.ErrInsufficientFunds) {
				test.Errorf("unexpected post error: %v", err)
			}
			outcomes <- transaction
		}(transactionID)
	}
	group.Wait()
	close(outcomes)

	posted := 0
	for transaction := range outcomes {
		if transaction.Status == book.StatusPosted {
			posted++
		}
	}
	// Each transfer fits the opening balance on its own; together they
	// would overdraw alice.
	if posted != 1 {
		test.Fatalf("expected exactly one transfer to post, got %d", posted)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 3000 {
		test.Fatalf("expected alice 3000 after the surviving transfer, got %d", got)
	}
	if got := fixture.balanceOf(test, fixture.bob); got != 7000 {
		test.Fatalf("expected bob 7000, got %d", got)
	}
}

type failingPublisher struct {
	err error
}

func (publisher *failingPublisher) PublishTransactionEvent(_ context.Context, _ book.TransactionEvent) error {
	return publisher.err
}

type recordingOperationLogger struct {
	mu      sync.Mutex
	entries []book.OperationLog
}

func (logger *recordingOperationLogger) LogOperation(_ context.Context, entry book.OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recordingOperationLogger) find(operation string) (book.OperationLog, bool) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			return entry, true
		}
	}
	return book.OperationLog{}, false
}

func TestPostSurvivesPublishFailureAndLogsIt(test *testing.T) {
	test.Parallel()
	fixture := newLedgerFixture(test)
	brokerDown := errors.New("broker unavailable")
	logger := &recordingOperationLogger{}
	service := mustNewService(test, fixture.store,
		book.WithEventPublisher(&failingPublisher{err: brokerDown}),
		book.WithOperationLogger(logger),
	)

	transactionID := mustTransactionID(test, "tx-pub-fail")
	transaction, err := service.Post(context.Background(), fixture.scope, transactionID, "", []book.EntryInput{
		mustEntry(test, fixture.control, book.DirectionDebit, 1200, fixture.currency),
		mustEntry(test, fixture.alice, book.DirectionCredit, 1200, fixture.currency),
	})
	if err != nil {
		test.Fatalf("post must not fail on a publish error: %v", err)
	}
	if transaction.Status != book.StatusPosted {
		test.Fatalf("expected posted, got %s", transaction.Status)
	}
	if got := fixture.balanceOf(test, fixture.alice); got != 1200 {
		test.Fatalf("expected alice 1200, got %d", got)
	}

	entry, found := logger.find("publish_event")
	if !found {
		test.Fatalf("expected the publish failure to reach the operation log")
	}
	if !errors.Is(entry.Error, brokerDown) {
		test.Fatalf("expected the publish error in the log entry, got %v", entry.Error)
	}
	if entry.TransactionID != transactionID {
		test.Fatalf("unexpected transaction id in log entry: %s", entry.TransactionID)
	}
	if entry.Status != "error" {
		test.Fatalf("expected error status, got %s", entry.Status)
	}
}
