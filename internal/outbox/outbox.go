package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Niiaks/Patron/internal/database"
	"github.com/Niiaks/Patron/internal/middleware"
)

// Enqueue writes an event to transaction_outbox using q, which should be the caller's transaction so
// the event commits atomically with the state change it describes.
func Enqueue(ctx context.Context, q database.Querier, eventType, partitionKey string, payload any) error {
	body, ok := payload.([]byte)
	if !ok {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox payload: %w", err)
		}
	}

	var correlationID *string
	if requestID := middleware.GetRequestIDFromContext(ctx); requestID != "" {
		correlationID = &requestID
	}

	_, err := q.Exec(ctx, `
		INSERT INTO transaction_outbox (event_type, payload, partition_key, correlation_id, status)
		VALUES ($1, $2, $3, $4, 'pending')
	`, eventType, body, partitionKey, correlationID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event %s: %w", eventType, err)
	}
	return nil
}
