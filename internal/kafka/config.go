package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic name contains all kafka topics used in the application
const (
	TopicLedgerPosted = "patron.ledger.posted"

	TopicSponsorshipPledged  = "patron.sponsorship.pledged"
	TopicSponsorshipCaptured = "patron.sponsorship.captured"
	TopicSponsorshipReleased = "patron.sponsorship.released"

	TopicWebhookPending = "patron.webhook.pending"

	TopicDLQ = "patron.dlq"
)

// Event types for outbox
const (
	EventLedgerPosted        = "patron.ledger.posted"
	EventSponsorshipPledged  = "patron.sponsorship.pledged"
	EventSponsorshipCaptured = "patron.sponsorship.captured"
	EventSponsorshipReleased = "patron.sponsorship.released"
	EventWebhookReceived     = "patron.webhook.received"
)

// ConsumerGroup names for different Kafka consumers
const (
	GroupWebhookWorker    = "patron.webhook.worker"
	GroupSettlementWorker = "patron.settlement.worker"
)

// TopicForEvent maps an outbox event type to the topic it is relayed to. Unknown types go to the DLQ.
func TopicForEvent(eventType string) string {
	switch eventType {
	case EventLedgerPosted:
		return TopicLedgerPosted
	case EventSponsorshipPledged:
		return TopicSponsorshipPledged
	case EventSponsorshipCaptured:
		return TopicSponsorshipCaptured
	case EventSponsorshipReleased:
		return TopicSponsorshipReleased
	case EventWebhookReceived:
		return TopicWebhookPending
	default:
		return TopicDLQ
	}
}

type Config struct {
	Brokers           []string
	ProducerTimeout   time.Duration
	RequiredAcks      kgo.Acks
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxPollRecords    int
	MaxRetries        int
	RetryBackoff      time.Duration
}

func DefaultConfig(brokers []string) *Config {
	return &Config{
		Brokers:           brokers,
		ProducerTimeout:   10 * time.Second,
		RequiredAcks:      kgo.AllISRAcks(),
		SessionTimeout:    10 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		MaxPollRecords:    100,
		MaxRetries:        5,
		RetryBackoff:      1 * time.Second,
	}
}
