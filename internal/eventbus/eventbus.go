// Package eventbus publishes deployment events to external consumers.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one deployment event destined for the bus.
type Message struct {
	TenantID  int64
	Key       string
	EventType string
	Payload   []byte
}

// Publisher hands messages to a bus without blocking on broker acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, msg Message)
	Close()
}

// Nop drops every message. It is used when no brokers are configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Message) {}

// Close implements Publisher.
func (Nop) Close() {}

// Kafka produces messages to a single topic with franz-go.
type Kafka struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

// NewKafka connects a producer to brokers. The connection is lazy: brokers
// are dialled on first produce.
func NewKafka(brokers []string, topic string, log *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic required")
	}
	if log == nil {
		log = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Kafka{client: client, topic: topic, log: log}, nil
}

// Publish implements Publisher. Delivery failures are logged.
func (k *Kafka) Publish(ctx context.Context, msg Message) {
	record := newRecord(k.topic, msg)
	k.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			k.log.Warn("kafka publish failed", "event_type", msg.EventType, "tenant_id", msg.TenantID, "error", err)
		}
	})
}

// Close flushes buffered records and closes the client.
func (k *Kafka) Close() {
	if err := k.client.Flush(context.Background()); err != nil {
		k.log.Warn("kafka flush failed", "error", err)
	}
	k.client.Close()
}

func newRecord(topic string, msg Message) *kgo.Record {
	key := msg.Key
	if key == "" {
		key = strconv.FormatInt(msg.TenantID, 10)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: msg.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(msg.EventType)},
			{Key: "tenant-id", Value: []byte(strconv.FormatInt(msg.TenantID, 10))},
		},
	}
}
