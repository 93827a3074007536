package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"listings-hub/internal/model"
)

// NewWriter returns a kafka-go writer with sensible defaults for this project.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
		BatchSize:    1,
	}
}

// NewReader constructs a reader bound to a consumer group.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		Topic:           topic,
		GroupID:         group,
		MinBytes:        1,
		MaxBytes:        10e6,
		StartOffset:     kafka.FirstOffset,
		CommitInterval:  time.Second,
		ReadLagInterval: 5 * time.Second,
		MaxWait:         time.Second,
	})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher puts raw listing events on the events topic, keyed by listing id so
// that one listing's events stay ordered within a partition.
type EventPublisher struct {
	w messageWriter
}

func NewEventPublisher(brokers []string, topic string) *EventPublisher {
	return &EventPublisher{w: NewWriter(brokers, topic)}
}

// Publish encodes evt and writes it synchronously.
func (p *EventPublisher) Publish(ctx context.Context, evt model.RawEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode raw event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ListingID),
		Value: payload,
	})
}

func (p *EventPublisher) Close() error {
	return p.w.Close()
}

// DecodeRawEvent parses a message produced by EventPublisher.
func DecodeRawEvent(m kafka.Message) (model.RawEvent, error) {
	var evt model.RawEvent
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		return model.RawEvent{}, fmt.Errorf("decode raw event at offset %d: %w", m.Offset, err)
	}
	return evt, nil
}
