package kafka

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes relayed outbox rows and dead letters. Every publish waits for the broker ack so
// the caller only marks a row published once it is durable.
type Producer struct {
	client *kgo.Client
	logger *zerolog.Logger
}

func NewProducer(cfg *Config, logger *zerolog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(cfg.RequiredAcks),
		kgo.ProduceRequestTimeout(cfg.ProducerTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// PublishWithHeaders sends one record keyed by partition key and waits for the ack.
func (p *Producer) PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: recordHeaders(headers),
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Str("key", string(key)).Msg("Failed to publish record")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// recordHeaders converts m into record headers sorted by key.
func recordHeaders(m map[string]string) []kgo.RecordHeader {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kgo.RecordHeader, 0, len(m))
	for _, k := range keys {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(m[k])})
	}
	return headers
}

func (p *Producer) Close() {
	p.logger.Info().Msg("closing Kafka producer")
	p.client.Close()
}
