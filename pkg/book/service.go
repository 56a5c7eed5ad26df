package book

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Service is the posting engine: it owns the book of record and is the
// only writer of entries and balances.
type Service struct {
	store     Store
	nowFn     func() int64
	logger    OperationLogger
	publisher EventPublisher
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Post validates a balanced set of entries and commits them atomically,
// moving the transaction from pending to posted. A validation failure
// moves it to failed with a specific reason and writes nothing else.
// Re-posting an already-terminal transaction id returns the stored
// outcome, so retries with the same id cannot double-apply.
func (service *Service) Post(ctx context.Context, scope Scope, transactionID TransactionID, externalRef string, entries []EntryInput) (Transaction, error) {
	var (
		result    Transaction
		domainErr error
		replayed  bool
	)
	storeErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		transaction, err := service.loadOrCreateTransaction(ctx, txStore, scope, transactionID, externalRef)
		if err != nil {
			return err
		}
		if transaction.Status.Terminal() {
			result = transaction
			replayed = true
			domainErr = TerminalFailure(transaction)
			return nil
		}

		if reason, validationErr := validateEntryShape(entries); validationErr != nil {
			result, err = service.markFailed(ctx, txStore, scope, transactionID, reason)
			if err != nil {
				return err
			}
			domainErr = validationErr
			return nil
		}

		accounts, reason, validationErr, err := service.resolveAccounts(ctx, txStore, scope, entries)
		if err != nil {
			return err
		}
		if validationErr != nil {
			result, err = service.markFailed(ctx, txStore, scope, transactionID, reason)
			if err != nil {
				return err
			}
			domainErr = validationErr
			return nil
		}

		deltas := netDeltas(entries, accounts)
		balances, err := lockBalances(ctx, txStore, scope, deltas)
		if err != nil {
			return err
		}
		if insufficient := findOverdraw(accounts, balances, deltas); insufficient != nil {
			result, err = service.markFailed(ctx, txStore, scope, transactionID, ReasonInsufficientFunds)
			if err != nil {
				return err
			}
			domainErr = fmt.Errorf("%w: account %s", ErrInsufficientFunds, insufficient.String())
			return nil
		}

		nowUnixUTC := service.nowFn()
		if err := txStore.UpdateTransactionStatus(ctx, scope, transactionID, StatusPending, StatusPosted, ReasonNone); err != nil {
			if errors.Is(err, ErrImmutableRecord) {
				// Lost a race with a concurrent posting of the same id.
				committed, readErr := txStore.GetTransaction(ctx, scope, transactionID)
				if readErr != nil {
					return readErr
				}
				result = committed
				replayed = true
				domainErr = TerminalFailure(committed)
				return nil
			}
			return err
		}
		if err := txStore.InsertEntries(ctx, buildEntries(transactionID, entries, nowUnixUTC)); err != nil {
			return err
		}
		for _, accountID := range sortedAccountIDs(deltas) {
			balance := balances[accountID]
			if err := txStore.ApplyBalanceDelta(ctx, scope, balance.AccountID, deltas[accountID], balance.Version, nowUnixUTC); err != nil {
				return err
			}
		}
		posted, err := txStore.GetTransaction(ctx, scope, transactionID)
		if err != nil {
			return err
		}
		result = posted
		return nil
	})
	if storeErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation:     operationPost,
			Scope:         scope,
			TransactionID: transactionID,
			Error:         storeErr,
		})
		return Transaction{}, storeErr
	}

	logEntry := OperationLog{
		Operation:     operationPost,
		Scope:         scope,
		TransactionID: transactionID,
		Status:        result.Status.String(),
		FailureReason: result.FailureReason,
		Error:         domainErr,
	}
	if replayed {
		logEntry.Status = operationStatusReplayed
	}
	service.logOperation(ctx, logEntry)
	if !replayed && result.Status.Terminal() {
		service.publishTransactionEvent(ctx, result)
	}
	return result, domainErr
}

// GetTransaction reads one transaction within a scope.
func (service *Service) GetTransaction(ctx context.Context, scope Scope, transactionID TransactionID) (Transaction, error) {
	return service.store.GetTransaction(ctx, scope, transactionID)
}

func (service *Service) loadOrCreateTransaction(ctx context.Context, txStore Store, scope Scope, transactionID TransactionID, externalRef string) (Transaction, error) {
	transaction, err := txStore.GetTransaction(ctx, scope, transactionID)
	if err == nil {
		return transaction, nil
	}
	if !errors.Is(err, ErrUnknownTransaction) {
		return Transaction{}, err
	}
	nowUnixUTC := service.nowFn()
	transaction = Transaction{
		TransactionID:  transactionID,
		Scope:          scope,
		ExternalRef:    externalRef,
		Status:         StatusPending,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	if err := txStore.CreateTransaction(ctx, transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (service *Service) markFailed(ctx context.Context, txStore Store, scope Scope, transactionID TransactionID, reason FailureReason) (Transaction, error) {
	if err := txStore.UpdateTransactionStatus(ctx, scope, transactionID, StatusPending, StatusFailed, reason); err != nil {
		return Transaction{}, err
	}
	return txStore.GetTransaction(ctx, scope, transactionID)
}

func (service *Service) resolveAccounts(ctx context.Context, txStore Store, scope Scope, entries []EntryInput) (map[AccountID]Account, FailureReason, error, error) {
	accounts := make(map[AccountID]Account, len(entries))
	for _, entry := range entries {
		if _, seen := accounts[entry.AccountID]; seen {
			continue
		}
		account, err := txStore.GetAccount(ctx, scope, entry.AccountID)
		if err != nil {
			if errors.Is(err, ErrUnknownAccount) || errors.Is(err, ErrForeignScopeAccount) {
				return nil, ReasonUnknownAccount, err, nil
			}
			return nil, ReasonNone, nil, err
		}
		if account.Status != AccountActive {
			return nil, ReasonAccountClosed, fmt.Errorf("%w: account %s", ErrAccountClosed, account.AccountID.String()), nil
		}
		accounts[entry.AccountID] = account
	}
	for _, entry := range entries {
		if accounts[entry.AccountID].Currency != entry.Currency {
			return nil, ReasonCurrencyMismatch, fmt.Errorf("%w: entry currency %s does not match account %s", ErrCurrencyMismatch, entry.Currency.String(), entry.AccountID.String()), nil
		}
	}
	return accounts, ReasonNone, nil, nil
}

func validateEntryShape(entries []EntryInput) (FailureReason, error) {
	if len(entries) < 2 {
		return ReasonTooFewEntries, fmt.Errorf("%w: got %d", ErrTooFewEntries, len(entries))
	}
	currency := entries[0].Currency
	var debits, credits int64
	for _, entry := range entries {
		if entry.AmountMinor <= 0 {
			return ReasonUnbalancedEntries, fmt.Errorf("%w: non-positive amount", ErrInvalidAmountMinor)
		}
		if entry.Currency != currency {
			return ReasonCurrencyMismatch, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, entry.Currency.String(), currency.String())
		}
		switch entry.Direction {
		case DirectionDebit:
			debits += entry.AmountMinor.Int64()
		case DirectionCredit:
			credits += entry.AmountMinor.Int64()
		default:
			return ReasonUnbalancedEntries, fmt.Errorf("%w: %q", ErrInvalidDirection, entry.Direction)
		}
	}
	if debits != credits {
		return ReasonUnbalancedEntries, fmt.Errorf("%w: debits=%d credits=%d", ErrUnbalancedEntries, debits, credits)
	}
	return ReasonNone, nil
}

func netDeltas(entries []EntryInput, accounts map[AccountID]Account) map[AccountID]int64 {
	deltas := make(map[AccountID]int64, len(accounts))
	for _, entry := range entries {
		account := accounts[entry.AccountID]
		deltas[entry.AccountID] += SignedDelta(account.Type, entry.Direction, entry.AmountMinor)
	}
	return deltas
}

// lockBalances acquires row locks in sorted account-id order so two
// concurrent postings touching the same accounts cannot deadlock.
func lockBalances(ctx context.Context, txStore Store, scope Scope, deltas map[AccountID]int64) (map[AccountID]AccountBalance, error) {
	balances := make(map[AccountID]AccountBalance, len(deltas))
	for _, accountID := range sortedAccountIDs(deltas) {
		balance, err := txStore.GetBalanceForUpdate(ctx, scope, accountID)
		if err != nil {
			return nil, err
		}
		balances[accountID] = balance
	}
	return balances, nil
}

// findOverdraw rejects postings that would take a customer (liability)
// account below zero. Control accounts absorb the external side of
// deposits and withdrawals and are allowed to swing freely.
func findOverdraw(accounts map[AccountID]Account, balances map[AccountID]AccountBalance, deltas map[AccountID]int64) *AccountID {
	for accountID, delta := range deltas {
		if delta >= 0 {
			continue
		}
		account := accounts[accountID]
		if account.Type != AccountLiability {
			continue
		}
		if balances[accountID].BalanceMinor+delta < 0 {
			overdrawn := accountID
			return &overdrawn
		}
	}
	return nil
}

func buildEntries(transactionID TransactionID, inputs []EntryInput, nowUnixUTC int64) []Entry {
	entries := make([]Entry, 0, len(inputs))
	for _, input := range inputs {
		entries = append(entries, Entry{
			TransactionID:  transactionID,
			AccountID:      input.AccountID,
			Direction:      input.Direction,
			AmountMinor:    input.AmountMinor,
			Currency:       input.Currency,
			CreatedUnixUTC: nowUnixUTC,
		})
	}
	return entries
}

func sortedAccountIDs(deltas map[AccountID]int64) []AccountID {
	ids := make([]AccountID, 0, len(deltas))
	for accountID := range deltas {
		ids = append(ids, accountID)
	}
	sort.Slice(ids, func(left, right int) bool {
		return ids[left].String() < ids[right].String()
	})
	return ids
}

// TerminalFailure maps a stored terminal transaction back to the domain
// error its original failure produced, so replays report the same outcome.
func TerminalFailure(transaction Transaction) error {
	if transaction.Status != StatusFailed {
		return nil
	}
	switch transaction.FailureReason {
	case ReasonTooFewEntries:
		return ErrTooFewEntries
	case ReasonUnbalancedEntries:
		return ErrUnbalancedEntries
	case ReasonCurrencyMismatch:
		return ErrCurrencyMismatch
	case ReasonUnknownAccount:
		return ErrUnknownAccount
	case ReasonAccountClosed:
		return ErrAccountClosed
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonReconciliationTimeout:
		return ErrReconciliationBudget
	default:
		return fmt.Errorf("transaction failed: %s", transaction.FailureReason)
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) publishTransactionEvent(ctx context.Context, transaction Transaction) {
	if service.publisher == nil {
		return
	}
	eventType := EventTransactionPosted
	if transaction.Status == StatusFailed {
		eventType = EventTransactionFailed
	}
	// Best effort: a publish failure must never unwind a committed post.
	publishErr := service.publisher.PublishTransactionEvent(ctx, TransactionEvent{
		Type:           eventType,
		Organization:   transaction.Scope.Organization(),
		Environment:    transaction.Scope.Environment().String(),
		TransactionID:  transaction.TransactionID.String(),
		Status:         transaction.Status.String(),
		FailureReason:  transaction.FailureReason.String(),
		OccurredAtUnix: service.nowFn(),
	})
	if publishErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation:     operationPublishEvent,
			Scope:         transaction.Scope,
			TransactionID: transaction.TransactionID,
			Error:         publishErr,
		})
	}
}
