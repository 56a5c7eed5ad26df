package initiator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostingEngine is the ledger engine surface the initiator drives. The
// in-process *book.Service satisfies it, as does the gRPC client, so the
// initiator does not care whether the book of record is colocated.
type PostingEngine interface {
	Post(ctx context.Context, scope book.Scope, transactionID book.TransactionID, externalRef string, entries []book.EntryInput) (book.Transaction, error)
	GetTransaction(ctx context.Context, scope book.Scope, transactionID book.TransactionID) (book.Transaction, error)
}

// Service accepts deposit, withdrawal, and transfer requests: it opens the
// pending transaction under an idempotency key, drives the posting engine,
// and leaves unresolved transactions pending for the reconciliation worker.
type Service struct {
	store  book.Store
	engine PostingEngine
	nowFn  func() int64
	logger *zap.Logger
}

// Result is the externally visible outcome of an initiate or status call.
type Result struct {
	TransactionID book.TransactionID
	Status        book.TransactionStatus
	FailureReason book.FailureReason
}

// NewService wires an initiator Service.
func NewService(store book.Store, engine PostingEngine, now func() int64, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", book.ErrInvalidServiceConfig)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: engine dependency is nil", book.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", book.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, engine: engine, nowFn: now, logger: logger}, nil
}

// Deposit credits a customer account against the scope's clearing control
// account. Exactly two entries.
func (service *Service) Deposit(ctx context.Context, scope book.Scope, key book.IdempotencyKey, accountID book.AccountID, amount book.AmountMinor, currency book.Currency, metadata book.MetadataJSON) (Result, error) {
	payload := RequestPayload{
		Operation:   OperationDeposit,
		AccountID:   accountID.String(),
		AmountMinor: amount.Int64(),
		Currency:    currency.String(),
		Metadata:    metadata.String(),
	}
	return service.initiate(ctx, scope, key, payload)
}

// Withdraw debits a customer account. Insufficient funds are rejected
// before any entries are proposed; the engine re-checks under lock.
func (service *Service) Withdraw(ctx context.Context, scope book.Scope, key book.IdempotencyKey, accountID book.AccountID, amount book.AmountMinor, currency book.Currency, metadata book.MetadataJSON) (Result, error) {
	payload := RequestPayload{
		Operation:   OperationWithdrawal,
		AccountID:   accountID.String(),
		AmountMinor: amount.Int64(),
		Currency:    currency.String(),
		Metadata:    metadata.String(),
	}
	return service.initiate(ctx, scope, key, payload)
}

// Transfer moves funds between two customer accounts in one transaction:
// a debit on the source and a credit on the destination, posting together
// or not at all.
func (service *Service) Transfer(ctx context.Context, scope book.Scope, key book.IdempotencyKey, source book.AccountID, destination book.AccountID, amount book.AmountMinor, currency book.Currency, metadata book.MetadataJSON) (Result, error) {
	payload := RequestPayload{
		Operation:            OperationTransfer,
		SourceAccountID:      source.String(),
		DestinationAccountID: destination.String(),
		AmountMinor:          amount.Int64(),
		Currency:             currency.String(),
		Metadata:             metadata.String(),
	}
	return service.initiate(ctx, scope, key, payload)
}

// GetStatus reports the transaction state, readable immediately after an
// initiate call returns even while the posting is still in flight.
func (service *Service) GetStatus(ctx context.Context, scope book.Scope, transactionID book.TransactionID) (Result, error) {
	transaction, err := service.store.GetTransaction(ctx, scope, transactionID)
	if err != nil {
		return Result{}, err
	}
	return resultFrom(transaction), nil
}

func (service *Service) initiate(ctx context.Context, scope book.Scope, key book.IdempotencyKey, payload RequestPayload) (Result, error) {
	if key.IsZero() {
		return Result{}, fmt.Errorf("%w: empty value", book.ErrInvalidIdempotencyKey)
	}
	requestJSON, err := payload.Encode()
	if err != nil {
		return Result{}, err
	}
	fingerprint, err := book.Fingerprint(payload)
	if err != nil {
		return Result{}, err
	}

	var (
		transactionID book.TransactionID
		replayed      bool
	)
	openErr := service.store.WithTx(ctx, func(ctx context.Context, txStore book.Store) error {
		record, lookupErr := txStore.GetIdempotencyRecord(ctx, scope, key)
		if lookupErr == nil {
			if record.Fingerprint != fingerprint {
				return fmt.Errorf("%w: key %s", book.ErrIdempotencyConflict, key.String())
			}
			transactionID = record.TransactionID
			replayed = true
			return nil
		}
		if !errors.Is(lookupErr, book.ErrUnknownIdempotency) {
			return lookupErr
		}
		newID, idErr := book.NewTransactionID(uuid.NewString())
		if idErr != nil {
			return idErr
		}
		transactionID = newID
		nowUnixUTC := service.nowFn()
		transaction := book.Transaction{
			TransactionID:  transactionID,
			Scope:          scope,
			ExternalRef:    payload.Operation,
			IdempotencyKey: key,
			Status:         book.StatusPending,
			RequestJSON:    requestJSON,
			CreatedUnixUTC: nowUnixUTC,
			UpdatedUnixUTC: nowUnixUTC,
		}
		if createErr := txStore.CreateTransaction(ctx, transaction); createErr != nil {
			return createErr
		}
		return txStore.CreateIdempotencyRecord(ctx, book.IdempotencyRecord{
			Scope:          scope,
			Key:            key,
			Fingerprint:    fingerprint,
			TransactionID:  transactionID,
			CreatedUnixUTC: nowUnixUTC,
		})
	})
	if openErr != nil {
		return Result{}, openErr
	}
	if replayed {
		// Stored outcome replayed without re-executing side effects.
		transaction, readErr := service.store.GetTransaction(ctx, scope, transactionID)
		if readErr != nil {
			return Result{}, readErr
		}
		service.logger.Debug("idempotent replay",
			zap.String("scope", scope.String()),
			zap.String("transaction_id", transactionID.String()),
			zap.String("status", transaction.Status.String()))
		return resultFrom(transaction), book.TerminalFailure(transaction)
	}

	if rejected, rejectErr := service.rejectInsufficient(ctx, scope, transactionID, payload); rejectErr != nil {
		return Result{}, rejectErr
	} else if rejected != nil {
		return *rejected, fmt.Errorf("%w: %s", book.ErrInsufficientFunds, payload.sourceAccountRef())
	}

	entries, err := BuildEntries(ctx, service.store, scope, payload)
	if err != nil {
		return Result{}, err
	}

	posted, postErr := service.engine.Post(ctx, scope, transactionID, payload.Operation, entries)
	if postErr != nil && isTransient(postErr) {
		// The posting may or may not have landed; the reconciliation
		// worker re-drives under the same transaction id.
		service.logger.Warn("posting engine unavailable, transaction left pending",
			zap.String("scope", scope.String()),
			zap.String("transaction_id", transactionID.String()),
			zap.Error(postErr))
		return Result{TransactionID: transactionID, Status: book.StatusPending}, nil
	}
	if posted.TransactionID.IsZero() {
		transaction, readErr := service.store.GetTransaction(ctx, scope, transactionID)
		if readErr != nil {
			return Result{}, readErr
		}
		posted = transaction
	}
	return resultFrom(posted), postErr
}

// rejectInsufficient pre-checks the projector for withdrawal and transfer
// sources so obviously overdrawing requests fail fast. Returns the failed
// result when the request was rejected.
func (service *Service) rejectInsufficient(ctx context.Context, scope book.Scope, transactionID book.TransactionID, payload RequestPayload) (*Result, error) {
	sourceRef := payload.sourceAccountRef()
	if sourceRef == "" {
		return nil, nil
	}
	sourceID, err := book.NewAccountID(sourceRef)
	if err != nil {
		return nil, err
	}
	account, err := service.store.GetAccount(ctx, scope, sourceID)
	if err != nil {
		// Unknown accounts are the engine's call to fail with a reason.
		return nil, nil
	}
	if account.Type != book.AccountLiability {
		return nil, nil
	}
	balance, err := service.store.GetBalance(ctx, scope, sourceID)
	if err != nil {
		return nil, nil
	}
	if balance.BalanceMinor >= payload.AmountMinor {
		return nil, nil
	}
	if err := service.store.UpdateTransactionStatus(ctx, scope, transactionID, book.StatusPending, book.StatusFailed, book.ReasonInsufficientFunds); err != nil {
		return nil, err
	}
	return &Result{
		TransactionID: transactionID,
		Status:        book.StatusFailed,
		FailureReason: book.ReasonInsufficientFunds,
	}, nil
}

// BuildEntries expands a normalized request into the balanced entry pair
// the posting engine expects. Deposits and withdrawals lean on the scope's
// clearing control account for the external side; the reconciliation
// worker uses the same expansion when re-driving a pending transaction.
func BuildEntries(ctx context.Context, store book.Store, scope book.Scope, payload RequestPayload) ([]book.EntryInput, error) {
	currency, err := book.NewCurrency(payload.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := book.NewAmountMinor(payload.AmountMinor)
	if err != nil {
		return nil, err
	}
	switch payload.Operation {
	case OperationDeposit:
		target, err := book.NewAccountID(payload.AccountID)
		if err != nil {
			return nil, err
		}
		control, err := store.GetOrCreateControlAccount(ctx, scope, currency)
		if err != nil {
			return nil, err
		}
		return entryPair(control.AccountID, target, amount, currency)
	case OperationWithdrawal:
		target, err := book.NewAccountID(payload.AccountID)
		if err != nil {
			return nil, err
		}
		control, err := store.GetOrCreateControlAccount(ctx, scope, currency)
		if err != nil {
			return nil, err
		}
		return entryPair(target, control.AccountID, amount, currency)
	case OperationTransfer:
		source, err := book.NewAccountID(payload.SourceAccountID)
		if err != nil {
			return nil, err
		}
		destination, err := book.NewAccountID(payload.DestinationAccountID)
		if err != nil {
			return nil, err
		}
		return entryPair(source, destination, amount, currency)
	default:
		return nil, fmt.Errorf("unknown operation %q", payload.Operation)
	}
}

// entryPair builds the (debit, credit) pair shared by every operation.
func entryPair(debited book.AccountID, credited book.AccountID, amount book.AmountMinor, currency book.Currency) ([]book.EntryInput, error) {
	debit, err := book.NewEntryInput(debited, book.DirectionDebit, amount, currency)
	if err != nil {
		return nil, err
	}
	credit, err := book.NewEntryInput(credited, book.DirectionCredit, amount, currency)
	if err != nil {
		return nil, err
	}
	return []book.EntryInput{debit, credit}, nil
}

func (payload RequestPayload) sourceAccountRef() string {
	switch payload.Operation {
	case OperationWithdrawal:
		return payload.AccountID
	case OperationTransfer:
		return payload.SourceAccountID
	default:
		return ""
	}
}

func resultFrom(transaction book.Transaction) Result {
	return Result{
		TransactionID: transaction.TransactionID,
		Status:        transaction.Status,
		FailureReason: transaction.FailureReason,
	}
}

func isTransient(err error) bool {
	return errors.Is(err, book.ErrTransientDependency) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
