// Package events publishes replenish attempt outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"steward/internal/replenish"
)

const source = "steward"

// Producer is the Kafka producer surface the publisher needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Envelope is the record value written for every event.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	TenantID  string          `json:"tenant_id"`
	Data      replenish.Event `json:"data"`
}

// KafkaPublisher writes replenish events keyed by workspace so a workspace's
// events stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish implements replenish.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev replenish.Event) error {
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	env := Envelope{
		EventID:   uuid.NewString(),
		EventType: ev.Type,
		Source:    source,
		Timestamp: ts,
		TenantID:  ev.WorkspaceID,
		Data:      ev,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal replenish event: %w", err)
	}

	headers := map[string]string{
		"event_type": ev.Type,
		"source":     source,
	}
	if err := p.producer.Produce(ctx, p.topic, []byte(ev.WorkspaceID), value, headers); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}
