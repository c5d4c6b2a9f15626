package outbox

import (
	"context"
	"time"

	"github.com/Niiaks/Patron/internal/config"
	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/model"
	"github.com/rs/zerolog"
)

// Publisher is the subset of the kafka producer used by the relay.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type Relay struct {
	db          database.Querier
	kafkaClient Publisher
	logger      *zerolog.Logger
	batchSize   int
	interval    time.Duration
	maxRetries  int
}

func NewRelay(db database.Querier, kafkaClient Publisher, logger *zerolog.Logger) *Relay {
	return &Relay{
		db:          db,
		kafkaClient: kafkaClient,
		logger:      logger,
		batchSize:   100,
		interval:    time.Second,
		maxRetries:  10,
	}
}

// WithConfig overrides the relay defaults. Zero values keep the default.
func (r *Relay) WithConfig(cfg config.OutboxConfig) *Relay {
	if cfg.BatchSize > 0 {
		r.batchSize = cfg.BatchSize
	}
	if cfg.Interval > 0 {
		r.interval = cfg.Interval
	}
	if cfg.MaxRetries > 0 {
		r.maxRetries = cfg.MaxRetries
	}
	return r
}

func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info().Msg("Starting Outbox Relay")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Stopping Outbox Relay")
			return nil
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Failed to process batch")
			}
		}
	}
}

// Drain relays batches until the outbox is empty or a batch fails. Used on shutdown so committed
// events are not left waiting for the next start.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.ProcessBatch(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// ProcessBatch relays one batch of pending events and returns how many were published. Rows are
// locked with SKIP LOCKED so several relays can run side by side.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, partition_key, COALESCE(correlation_id, ''), retry_count
		FROM transaction_outbox
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return 0, err
	}

	var events []model.TransactionOutbox
	for rows.Next() {
		var e model.TransactionOutbox
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.PartitionKey, &e.CorrelationID, &e.RetryCount); err != nil {
			rows.Close()
			return 0, err
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	r.logger.Debug().Int("count", len(events)).Msg("Fetched outbox events")

	var processedIDs []int64
	for _, e := range events {
		topic := kafka.TopicForEvent(e.EventType)
		headers := map[string]string{"event_type": e.EventType}
		if e.CorrelationID != "" {
			headers["correlation_id"] = e.CorrelationID
		}

		pubErr := r.kafkaClient.PublishWithHeaders(ctx, topic, []byte(e.PartitionKey), e.Payload, headers)
		if pubErr != nil {
			r.logger.Error().Err(pubErr).Int64("event_id", e.ID).Str("event_type", e.EventType).Msg("Failed to publish event to Kafka")

			status := "pending"
			if e.RetryCount+1 >= r.maxRetries {
				status = "failed"
			}
			if _, err := tx.Exec(ctx, `
				UPDATE transaction_outbox
				SET retry_count = retry_count + 1, last_error = $2, status = $3, updated_at = NOW()
				WHERE id = $1
			`, e.ID, pubErr.Error(), status); err != nil {
				return 0, err
			}
			continue
		}
		processedIDs = append(processedIDs, e.ID)
	}

	if len(processedIDs) > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE transaction_outbox
			SET status = 'processed', updated_at = NOW()
			WHERE id = ANY($1)
		`, processedIDs)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(processedIDs), nil
}
