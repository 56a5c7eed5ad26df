package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/bookkeeper/internal/initiator"
	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"go.uber.org/zap"
)

const (
	defaultInterval    = 30 * time.Second
	defaultGracePeriod = time.Minute
	defaultMaxAttempts = 5
	defaultSweepLimit  = 100
)

// Config tunes the reconciliation loop.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// GracePeriod a transaction may stay pending before the worker picks
	// it up.
	GracePeriod time.Duration
	// MaxAttempts bounds re-drives before a transaction is failed with
	// reason reconciliation_timeout.
	MaxAttempts int
	// SweepLimit caps how many stuck transactions one sweep loads.
	SweepLimit int
}

func (config Config) withDefaults() Config {
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = defaultGracePeriod
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.SweepLimit <= 0 {
		config.SweepLimit = defaultSweepLimit
	}
	return config
}

// Worker re-drives transactions stuck in pending. It is the explicit
// state machine over {pending, posted, failed}: a pending transaction is
// either reconciled to the engine's terminal outcome, re-posted under its
// original transaction id, or failed once the retry budget is exhausted.
// It never silently drops a pending transaction.
type Worker struct {
	store     book.Store
	engine    initiator.PostingEngine
	publisher book.EventPublisher
	logger    *zap.Logger
	nowFn     func() int64
	config    Config
}

// New wires a Worker.
func New(store book.Store, engine initiator.PostingEngine, publisher book.EventPublisher, logger *zap.Logger, now func() int64, config Config) (*Worker, error) {
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
	return &Worker{
		store:     store,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
		nowFn:     now,
		config:    config.withDefaults(),
	}, nil
}

// Run sweeps periodically until the context is cancelled.
func (worker *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(worker.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := worker.Sweep(ctx); err != nil {
				worker.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes every transaction pending past the grace period.
func (worker *Worker) Sweep(ctx context.Context) error {
	cutoff := worker.nowFn() - int64(worker.config.GracePeriod/time.Second)
	stuck, err := worker.store.ListPendingTransactions(ctx, cutoff, worker.config.SweepLimit)
	if err != nil {
		return err
	}
	for _, transaction := range stuck {
		if err := worker.reconcile(ctx, transaction); err != nil {
			worker.logger.Error("transaction reconcile failed",
				zap.String("scope", transaction.Scope.String()),
				zap.String("transaction_id", transaction.TransactionID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (worker *Worker) reconcile(ctx context.Context, transaction book.Transaction) error {
	attempts, err := worker.store.IncrementReconcileAttempts(ctx, transaction.Scope, transaction.TransactionID)
	if err != nil {
		if errors.Is(err, book.ErrImmutableRecord) {
			// Reached a terminal status between the sweep and now, nothing
			// left to reconcile.
			return nil
		}
		return err
	}
	if attempts > worker.config.MaxAttempts {
		return worker.exhaust(ctx, transaction)
	}

	// The engine may have posted while our confirmation was lost; its
	// terminal outcome wins and is copied over, never re-applied.
	remote, err := worker.engine.GetTransaction(ctx, transaction.Scope, transaction.TransactionID)
	if err == nil && remote.Status.Terminal() {
		return worker.adopt(ctx, transaction, remote)
	}
	if err != nil && !errors.Is(err, book.ErrUnknownTransaction) && !isTransient(err) {
		return err
	}

	payload, err := initiator.ParseRequestPayload(transaction.RequestJSON)
	if err != nil {
		return err
	}
	entries, err := initiator.BuildEntries(ctx, worker.store, transaction.Scope, payload)
	if err != nil {
		return err
	}
	// Same transaction id, never a fresh one: an already-applied posting
	// resolves as a replay instead of a double-post.
	redriven, postErr := worker.engine.Post(ctx, transaction.Scope, transaction.TransactionID, payload.Operation, entries)
	if postErr != nil && isTransient(postErr) {
		worker.logger.Warn("posting engine still unavailable",
			zap.String("transaction_id", transaction.TransactionID.String()),
			zap.Int("attempts", attempts))
		return nil
	}
	if redriven.Status.Terminal() {
		worker.logger.Info("pending transaction reconciled",
			zap.String("transaction_id", transaction.TransactionID.String()),
			zap.String("status", redriven.Status.String()),
			zap.Int("attempts", attempts))
	}
	if postErr != nil {
		// Terminal domain failure: the engine recorded the reason.
		return nil
	}
	return nil
}

// adopt copies the engine's terminal outcome over the local pending row.
func (worker *Worker) adopt(ctx context.Context, local book.Transaction, remote book.Transaction) error {
	err := worker.store.UpdateTransactionStatus(ctx, local.Scope, local.TransactionID, book.StatusPending, remote.Status, remote.FailureReason)
	if err != nil && !errors.Is(err, book.ErrImmutableRecord) {
		return err
	}
	worker.logger.Info("lost confirmation reconciled",
		zap.String("transaction_id", local.TransactionID.String()),
		zap.String("status", remote.Status.String()))
	return nil
}

// exhaust fails a transaction whose retry budget ran out. This is money
// that neither completed nor was cleanly rejected, so it is surfaced both
// as an alert-level log and as a published event.
func (worker *Worker) exhaust(ctx context.Context, transaction book.Transaction) error {
	err := worker.store.UpdateTransactionStatus(ctx, transaction.Scope, transaction.TransactionID, book.StatusPending, book.StatusFailed, book.ReasonReconciliationTimeout)
	if err != nil {
		if errors.Is(err, book.ErrImmutableRecord) {
			// Resolved elsewhere between the sweep and the flip.
			return nil
		}
		return err
	}
	worker.logger.Error("reconciliation retry budget exhausted",
		zap.String("scope", transaction.Scope.String()),
		zap.String("transaction_id", transaction.TransactionID.String()),
		zap.Int("max_attempts", worker.config.MaxAttempts))
	if worker.publisher != nil {
		publishErr := worker.publisher.PublishTransactionEvent(ctx, book.TransactionEvent{
			Type:           book.EventTransactionFailed,
			Organization:   transaction.Scope.Organization(),
			Environment:    transaction.Scope.Environment().String(),
			TransactionID:  transaction.TransactionID.String(),
			Status:         book.StatusFailed.String(),
			FailureReason:  book.ReasonReconciliationTimeout.String(),
			OccurredAtUnix: worker.nowFn(),
		})
		if publishErr != nil {
			worker.logger.Warn("failed transaction event publish", zap.Error(publishErr))
		}
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, book.ErrTransientDependency) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
