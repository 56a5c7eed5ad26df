package events

import (
	"context"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
)

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// PublishTransactionEvent discards the event.
func (NopPublisher) PublishTransactionEvent(ctx context.Context, event book.TransactionEvent) error {
	return nil
}
