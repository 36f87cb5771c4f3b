package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the Kafka sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes messages to a topic keyed by order ID, so the events of
// one order land in one partition.
type Kafka struct {
	w MessageWriter
}

// NewKafkaWriter returns a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	return ParseURLs(csv)
}

// NewKafka wraps w as a Sink.
func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{w: w}
}

func (k *Kafka) Kind() string { return "kafka" }

func (k *Kafka) Deliver(ctx context.Context, m Message) error {
	err := k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.OrderID),
		Value: m.Body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(m.Type)},
			{Key: "event_id", Value: []byte(m.ID)},
		},
		Time: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
