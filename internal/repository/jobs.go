package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coachcall/partner-api/internal/domain"
)

var (
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidTransition is returned when a status update loses the
	// compare-and-set race: the job is no longer in the required state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobsRepository abstracts job persistence. Every status mutation is an atomic
// compare-and-set on the current status so duplicate or late worker updates
// cannot corrupt a job that already reached a terminal state.
type JobsRepository interface {
	// CreateJob inserts a pending job and, when an idempotency key is set,
	// reserves the (owner, key) pair in the same atomic operation. When the
	// pair is already taken it returns the previously created job and
	// created=false; the caller must not treat that as an error.
	CreateJob(ctx context.Context, job *domain.Job) (stored *domain.Job, created bool, err error)

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	MarkProcessing(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	MarkCompleted(ctx context.Context, jobID string, output json.RawMessage) error
	MarkFailed(ctx context.Context, jobID, errorCode, errorMessage string, details json.RawMessage) error

	RecordWebhookDelivery(ctx context.Context, delivery domain.WebhookDelivery) error
	UpdateWebhookState(ctx context.Context, jobID string, attempts int, completed bool) error
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
