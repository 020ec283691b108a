// Package audit publishes moderation events (kick, promote, rename, pin,
// privacy change, channel destroy) to an external Kafka/Redpanda topic for
// audit tooling. It is entirely best-effort: a publish failure is logged
// and otherwise ignored, since losing an audit event must never affect
// chat delivery.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EventKind names the moderation action an Event records.
type EventKind string

const (
	EventKick             EventKind = "kick"
	EventPromote          EventKind = "promote"
	EventRename           EventKind = "rename"
	EventPin              EventKind = "pin"
	EventPrivacy          EventKind = "privacy"
	EventInvite           EventKind = "invite"
	EventChannelDestroyed EventKind = "channel_destroyed"
)

// Event is one moderation action, published as JSON.
type Event struct {
	Kind      EventKind `json:"kind"`
	ChannelID uint32    `json:"channel_id"`
	ActorID   uint32    `json:"actor_id"`
	TargetID  uint32    `json:"target_id,omitempty"`
}

// Sink publishes Events. The no-op sink is used whenever no Kafka brokers
// are configured.
type Sink interface {
	Publish(Event)
	Close()
}

type noopSink struct{}

func (noopSink) Publish(Event) {}
func (noopSink) Close()        {}

// NoOp returns a Sink that discards every event.
func NoOp() Sink { return noopSink{} }

// KafkaSink publishes events to a Kafka/Redpanda topic via franz-go.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// NewKafkaSink builds a producer-mode franz-go client against brokers.
func NewKafkaSink(brokers []string, topic string, logger zerolog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}, nil
}

// Publish serializes the event and produces it asynchronously. Any
// produce error is logged and swallowed: audit delivery is best-effort and
// must never slow down or fail a moderation action.
func (s *KafkaSink) Publish(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal audit event")
		return
	}

	record := &kgo.Record{Topic: s.topic, Value: body}
	s.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to publish audit event")
		}
	})
}

// Close flushes outstanding produces and closes the client.
func (s *KafkaSink) Close() {
	_ = s.client.Flush(context.Background())
	s.client.Close()
}
