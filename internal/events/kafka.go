package events

import (
	"context"
	"encoding/json"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"github.com/segmentio/kafka-go"
)

const transactionsTopic = "ledger.transactions"

// KafkaPublisher emits transaction lifecycle events to a Kafka topic.
// Delivery is at-least-once; consumers deduplicate on transaction id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher wires a publisher against the given brokers.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    transactionsTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishTransactionEvent writes one event keyed by transaction id so all
// events for a transaction land in the same partition.
func (publisher *KafkaPublisher) PublishTransactionEvent(ctx context.Context, event book.TransactionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return publisher.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (publisher *KafkaPublisher) Close() error {
	return publisher.writer.Close()
}
