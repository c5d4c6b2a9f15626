package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/pkg/types"
)

// SQSAPI is the part of the SQS client the scheduler uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSScheduler implements Scheduler on an SQS queue.
type SQSScheduler struct {
	Client   SQSAPI
	QueueURL string
}

func NewSQSScheduler(client SQSAPI, queueURL string) *SQSScheduler {
	return &SQSScheduler{
		Client:   client,
		QueueURL: queueURL,
	}
}

var _ Scheduler = (*SQSScheduler)(nil)

func (s *SQSScheduler) ScheduleCapture(ctx context.Context, job *types.CaptureJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal capture job: %w", err)
	}

	attrs := map[string]sqstypes.MessageAttributeValue{
		"action": {DataType: aws.String("String"), StringValue: aws.String(job.Action)},
	}
	if requestID := middleware.GetRequestIDFromContext(ctx); requestID != "" {
		attrs["correlation_id"] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(requestID)}
	}

	_, err = s.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.QueueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to send capture job for %s: %w", job.SponsorshipID, err)
	}
	return nil
}
