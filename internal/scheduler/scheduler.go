// Package scheduler queues capture and release jobs for pending sponsorships.
package scheduler

import (
	"context"

	"github.com/Niiaks/Patron/pkg/types"
)

// Scheduler enqueues a capture job for asynchronous processing.
type Scheduler interface {
	ScheduleCapture(ctx context.Context, job *types.CaptureJob) error
}
