package book

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	Scope         Scope
	TransactionID TransactionID
	AccountID     AccountID
	Status        string
	FailureReason FailureReason
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// EventPublisher receives transaction lifecycle notifications. Delivery is
// best effort and at-least-once; consumers must deduplicate on
// transaction id.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, event TransactionEvent) error
}

// TransactionEvent is the envelope published when a transaction reaches a
// terminal state.
type TransactionEvent struct {
	Type           string `json:"type"`
	Organization   string `json:"organization"`
	Environment    string `json:"environment"`
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
	OccurredAtUnix int64  `json:"occurred_at_unix_utc"`
}

// WithEventPublisher wires a publisher for transaction.posted and
// transaction.failed notifications.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}
