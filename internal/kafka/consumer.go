package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a simplified wrapper around Kafka records
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string
}

// Handler processes a single message. Return error to trigger retry.
type Handler func(ctx context.Context, msg *Message) error

// DeadLetterPublisher receives messages whose handler kept failing.
type DeadLetterPublisher interface {
	PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type Consumer struct {
	client *kgo.Client
	cfg    *Config
	topic  string
	group  string
	logger *zerolog.Logger
	dlq    DeadLetterPublisher
}

func NewConsumer(cfg *Config, group, topic string, logger *zerolog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()), // Start from earliest if no offset
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		client: client,
		cfg:    cfg,
		topic:  topic,
		group:  group,
		logger: logger,
	}, nil
}

// WithDeadLetter routes messages that exhaust their retries to TopicDLQ.
func (c *Consumer) WithDeadLetter(p DeadLetterPublisher) *Consumer {
	c.dlq = p
	return c
}

// Run starts consuming messages and calls handler for each.
// Blocks until context is cancelled.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if errs := fetches.Errors(); len(errs) > 0 {
			// Log errors but continue - transient errors are common
			for _, err := range errs {
				c.logger.Warn().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).Msg("fetch error")
			}
		}

		fetches.EachRecord(func(record *kgo.Record) {
			msg := &Message{
				Topic:     record.Topic,
				Key:       record.Key,
				Value:     record.Value,
				Partition: record.Partition,
				Offset:    record.Offset,
				Timestamp: record.Timestamp,
				Headers:   headersToMap(record.Headers),
			}

			if err := c.processWithRetry(ctx, handler, msg); err != nil {
				c.logger.Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("message processing failed after retries")
				c.deadLetter(ctx, msg, err)
			}
		})

		// Commit offsets after processing batch
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.Error().Err(err).Msg("failed to commit offsets")
		}
	}
}

func (c *Consumer) processWithRetry(ctx context.Context, handler Handler, msg *Message) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff:
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := handler(ctx, msg); err != nil {
			lastErr = err
			continue
		}
		return nil // Success
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *Message, cause error) {
	if c.dlq == nil {
		return
	}
	headers := map[string]string{
		"source_topic":     msg.Topic,
		"source_partition": strconv.Itoa(int(msg.Partition)),
		"source_offset":    strconv.FormatInt(msg.Offset, 10),
		"error":            cause.Error(),
	}
	if err := c.dlq.PublishWithHeaders(ctx, TopicDLQ, msg.Key, msg.Value, headers); err != nil {
		c.logger.Error().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("failed to publish to DLQ")
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}

func headersToMap(headers []kgo.RecordHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Key] = string(h.Value)
	}
	return m
}
