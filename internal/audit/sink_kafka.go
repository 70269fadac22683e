package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"hubbridge/internal/platform/config"
)

// KafkaSink forwards audit events to a Kafka topic so downstream
// compliance consumers see the install and refresh history without
// querying this service.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the configured brokers and ensures the audit
// topic exists. Returns nil if no brokers are configured.
func NewKafkaSink(ctx context.Context, cfg config.Kafka) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, cfg.AuditTopic); err != nil {
		// Topic may already exist; anything else is fatal here rather than
		// at first publish.
		if !topicExists(ctx, admin, cfg.AuditTopic) {
			client.Close()
			return nil, fmt.Errorf("create audit topic: %w", err)
		}
	}

	return &KafkaSink{client: client, topic: cfg.AuditTopic}, nil
}

func topicExists(ctx context.Context, admin *kadm.Client, topic string) bool {
	details, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return false
	}
	return details.Has(topic)
}

// Publish produces one event, keyed by portal id so a portal's history
// stays ordered within a partition.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(strconv.FormatInt(event.PortalID, 10)),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
