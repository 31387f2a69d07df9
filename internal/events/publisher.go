// Package events publishes chat lifecycle events to Kafka for downstream
// consumers (analytics, archival). Publishing is strictly phase two: the
// store mutation has already committed by the time an event is emitted, and
// a publish failure is logged, never surfaced to the caller.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Topics per event family.
const (
	TopicChatMessages   = "chat-messages"
	TopicChatLifecycle  = "chat-lifecycle"
	TopicTypingActivity = "typing-indicators"
)

// Envelope is the JSON shape written to every topic.
type Envelope struct {
	Kind       string    `json:"kind"`
	ChatID     string    `json:"chat_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// Publisher emits chat events. Implementations must be safe for concurrent
// use and must never block a request on broker availability longer than the
// passed context allows.
type Publisher interface {
	Publish(ctx context.Context, topic, kind, chatID string, payload any)
	Close() error
}

// Noop discards all events. Used when eventing is disabled.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, string, string, any) {}

// Close implements Publisher.
func (Noop) Close() error { return nil }

// Kafka publishes events through a shared kafka-go writer. The writer picks
// the topic per message, so one publisher serves all topics.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka constructs a publisher against the given broker addresses.
func NewKafka(brokers []string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Publish marshals the envelope and writes it to the topic, keyed by chat id
// so per-chat ordering survives partitioning. Failures are logged and
// swallowed.
func (k *Kafka) Publish(ctx context.Context, topic, kind, chatID string, payload any) {
	env := Envelope{
		Kind:       kind,
		ChatID:     chatID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("event marshal failed")
		return
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(chatID),
		Value: data,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("topic", topic).
			Str("kind", kind).
			Str("chat_id", chatID).
			Msg("event publish failed")
	}
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error { return k.writer.Close() }
