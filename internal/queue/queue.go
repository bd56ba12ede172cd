// Package queue moves image tasks through Kafka: the producer enqueues them,
// the consumer runs them with retries and dead-letters what it gives up on.
package queue

import (
	"context"

	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that partitions by message key, so every
// task for one owner lands on the same partition.
func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

// KafkaReaders returns a factory of consumer group readers, one per worker.
func KafkaReaders(broker, topic, groupID string) func() MessageReader {
	return func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{broker},
			Topic:   topic,
			GroupID: groupID,
		})
	}
}
