// Package oplog adapts the ledger service's operation callbacks onto zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"go.uber.org/zap"
)

// ZapOperationLogger emits one structured log line per ledger operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps a zap logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry book.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("scope", entry.Scope.String()),
		zap.String("status", entry.Status),
	}
	if !entry.TransactionID.IsZero() {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if !entry.AccountID.IsZero() {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.FailureReason != book.ReasonNone {
		fields = append(fields, zap.String("failure_reason", entry.FailureReason.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation", fields...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
