// Package kafkaad publishes domain events to Kafka for downstream consumers
// (notifications, search indexing, analytics).
package kafkaad

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"handyhub/internal/domain"
)

const source = "handyhub"

// Event is the envelope every message on our topics carries.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements domain.EventSink. Topics are named after the aggregate
// type: "engagements", "reviews".
type Producer struct {
	w   writer
	log zerolog.Logger
	now func() time.Time
}

func NewProducer(brokers []string, l zerolog.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		log: l,
		now: time.Now,
	}
}

func (p *Producer) Emit(ctx context.Context, ev domain.DomainEvent) error {
	msg, err := p.buildMessage(ctx, ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Type, msg.Topic, err)
	}
	p.log.Debug().Str("topic", msg.Topic).Str("event_type", ev.Type).Str("aggregate_id", ev.AggregateID).Msg("event published")
	return nil
}

// buildMessage keys by aggregate id so one engagement's events stay ordered
// within a partition.
func (p *Producer) buildMessage(ctx context.Context, ev domain.DomainEvent) (kafka.Message, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	env := Event{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		Version:       1,
		Timestamp:     p.now().UTC(),
		Source:        source,
		CorrelationID: middleware.GetReqID(ctx),
		Data:          data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Topic: TopicFor(ev.AggregateType),
		Key:   []byte(ev.AggregateID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte(source)},
		},
	}
	if env.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(env.CorrelationID)})
	}
	return msg, nil
}

func TopicFor(aggregateType string) string {
	switch aggregateType {
	case "engagement":
		return "engagements"
	case "review":
		return "reviews"
	}
	return aggregateType + "s"
}

func (p *Producer) Close() error { return p.w.Close() }
