package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Niiaks/Patron/internal/kafka"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/internal/webhook"
)

func webhookHandler(processor *webhook.Processor, log *zerolog.Logger) kafka.Handler {
	return func(ctx context.Context, msg *kafka.Message) error {
		l := log.With().Str("topic", msg.Topic).Int64("offset", msg.Offset).Logger()
		if id := msg.Headers["correlation_id"]; id != "" {
			l = l.With().Str("request_id", id).Logger()
			ctx = middleware.WithRequestID(ctx, id)
		}
		ctx = middleware.WithLogger(ctx, &l)

		l.Info().Msg("Processing webhook")
		return processor.Process(ctx, msg.Value)
	}
}
