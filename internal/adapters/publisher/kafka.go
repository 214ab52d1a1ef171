package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrNoBrokers is returned when a Kafka publisher is built without seeds.
var ErrNoBrokers = errors.New("kafka brokers are required")

// KafkaPublisher produces lifecycle events as JSON records keyed by
// "<user>/<event>" so a registration's history stays on one partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger logger.Logger
}

// NewKafkaPublisher connects a producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, l logger.Logger, extra ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	}, extra...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger.OrGlobal(l, "publisher.kafka")}, nil
}

// Record builds the Kafka record for e.
func Record(topic string, e model.LifecycleEvent) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode lifecycle event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.UserID + "/" + e.EventID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "id", Value: []byte(e.ID)},
		},
		Timestamp: e.At,
	}, nil
}

// Publish produces e and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, e model.LifecycleEvent) error {
	rec, err := Record(p.topic, e)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", e.ID, err)
	}
	p.logger.Debug(ctx, "lifecycle event produced", logger.String("id", e.ID), logger.String("topic", p.topic))
	return nil
}

// Close flushes pending records and closes the client.
func (p *KafkaPublisher) Close() error {
	if err := p.client.Flush(context.Background()); err != nil {
		p.client.Close()
		return fmt.Errorf("flush: %w", err)
	}
	p.client.Close()
	return nil
}
