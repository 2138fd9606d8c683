package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"steward/pkg/logging"
)

// ErrNoBrokers is returned when a producer is requested without seed brokers.
var ErrNoBrokers = errors.New("kafka: no seed brokers configured")

// Producer publishes records synchronously with franz-go
type Producer struct {
	client    *kgo.Client
	logger    logging.Logger
	clusterID string
}

// NewProducer creates a new Kafka producer. The client connects lazily, so
// an unreachable cluster surfaces on the first Produce or Ping.
func NewProducer(brokers []string, clusterID, clientID string, logger logging.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client:    client,
		logger:    logger,
		clusterID: clusterID,
	}, nil
}

// Produce writes one record and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if p.clusterID != "" {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: "cluster_id", Value: []byte(p.clusterID)})
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping failed: %w", err)
	}
	return nil
}

// Close flushes and closes the client
func (p *Producer) Close() {
	p.client.Close()
}
