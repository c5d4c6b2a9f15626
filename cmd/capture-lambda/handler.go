package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/pkg/request"
	"github.com/Niiaks/Patron/pkg/types"
)

type resolver interface {
	Capture(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
}

// captureHandler resolves one sponsorship per SQS record. Failed records are reported back so
// only they are redelivered; records that can never succeed are dropped.
func captureHandler(r resolver, log *zerolog.Logger) func(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
		var resp events.SQSEventResponse

		for _, record := range sqsEvent.Records {
			l := log.With().Str("message_id", record.MessageId).Logger()
			msgCtx := ctx
			if attr, ok := record.MessageAttributes["correlation_id"]; ok && attr.StringValue != nil {
				l = l.With().Str("request_id", *attr.StringValue).Logger()
				msgCtx = middleware.WithRequestID(msgCtx, *attr.StringValue)
			}
			msgCtx = middleware.WithLogger(msgCtx, &l)

			if err := handleRecord(msgCtx, r, record.Body); err != nil {
				if permanent(err) {
					l.Warn().Err(err).Msg("Dropping capture job")
					continue
				}
				l.Error().Err(err).Msg("Capture job failed, will retry")
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			}
		}

		return resp, nil
	}
}

func handleRecord(ctx context.Context, r resolver, body string) error {
	var job types.CaptureJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return apperror.Validation("malformed capture job: %v", err)
	}
	if err := request.Validate(&job); err != nil {
		return err
	}

	id, err := uuid.Parse(job.SponsorshipID)
	if err != nil {
		return apperror.Validation("invalid sponsorship id %q", job.SponsorshipID)
	}

	logger := middleware.GetLogger(ctx)
	logger.Info().Str("sponsorship_id", job.SponsorshipID).Str("action", job.Action).Str("reason", job.Reason).Msg("Resolving sponsorship")

	switch job.Action {
	case types.CaptureActionCapture:
		return r.Capture(ctx, id)
	case types.CaptureActionRelease:
		return r.Release(ctx, id)
	default:
		return fmt.Errorf("unknown action %q", job.Action)
	}
}

// permanent reports errors a redelivery cannot fix.
func permanent(err error) bool {
	return !apperror.IsRetryable(err)
}
