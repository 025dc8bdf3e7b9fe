package connections

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akto-api-security/gomiddleware"
	"github.com/segmentio/kafka-go"

	"github.com/bellistech/tcpscope/internal/config"
)

// KafkaPublisher writes connection summaries to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher from the sink configuration. A
// missing broker list means the sink is disabled and nil is returned.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	if cfg.Brokers == "" {
		return nil
	}
	writer := gomiddleware.GetKafkaWriter(cfg.Brokers, cfg.Topic, cfg.BatchSize, cfg.BatchTimeout())
	return &KafkaPublisher{writer: writer}
}

// Publish encodes the summary as JSON and hands it to the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, s Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
