package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicForEvent(t *testing.T) {
	assert.Equal(t, TopicSponsorshipCaptured, TopicForEvent(EventSponsorshipCaptured))
	assert.Equal(t, TopicWebhookPending, TopicForEvent(EventWebhookReceived))
	assert.Equal(t, TopicLedgerPosted, TopicForEvent(EventLedgerPosted))
	assert.Equal(t, TopicDLQ, TopicForEvent("unknown"))
}

type recordingDLQ struct {
	topic   string
	headers map[string]string
}

func (r *recordingDLQ) PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	r.topic = topic
	r.headers = headers
	return nil
}

func TestProcessWithRetry(t *testing.T) {
	log := zerolog.Nop()
	c := &Consumer{cfg: &Config{MaxRetries: 3, RetryBackoff: time.Millisecond}, logger: &log}
	msg := &Message{Topic: TopicWebhookPending, Offset: 7}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := c.processWithRetry(context.Background(), func(ctx context.Context, m *Message) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, msg)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := c.processWithRetry(context.Background(), func(ctx context.Context, m *Message) error {
			calls++
			return errors.New("boom")
		}, msg)
		require.Error(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("dead letters carry the source position", func(t *testing.T) {
		dlq := &recordingDLQ{}
		c.WithDeadLetter(dlq)
		c.deadLetter(context.Background(), msg, errors.New("boom"))

		assert.Equal(t, TopicDLQ, dlq.topic)
		assert.Equal(t, "7", dlq.headers["source_offset"])
		assert.Equal(t, "boom", dlq.headers["error"])
	})
}

func TestRecordHeadersAreSorted(t *testing.T) {
	assert.Nil(t, recordHeaders(nil))

	headers := recordHeaders(map[string]string{"x-request-id": "req-1", "event_type": "patron.ledger.posted"})
	require.Len(t, headers, 2)
	assert.Equal(t, "event_type", headers[0].Key)
	assert.Equal(t, "x-request-id", headers[1].Key)
	assert.Equal(t, []byte("req-1"), headers[1].Value)
}
