// Package events queues reports that could not be stored so a worker can retry them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/filing-insight/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends pending reports to Kafka keyed by report id.
type Publisher struct {
	w MessageWriter
}

// NewPublisher connects a writer for topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	})
}

func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{w: w}
}

// PublishPending queues a report whose write failed with cause.
func (p *Publisher) PublishPending(ctx context.Context, stored models.StoredReport, cause error) error {
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal pending report: %w", err)
	}

	headers := []kafka.Header{
		{Key: "queued_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	}
	if cause != nil {
		headers = append(headers, kafka.Header{Key: "error", Value: []byte(cause.Error())})
	}

	msg := kafka.Message{
		Key:     []byte(stored.ID),
		Value:   payload,
		Headers: headers,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish pending report %s: %w", stored.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
