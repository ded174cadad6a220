package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coachcall/partner-api/internal/domain"
)

// MemoryJobsRepository stores jobs in memory for local development and tests.
// One mutex covers both the job table and the idempotency index so the
// check-and-reserve in CreateJob is atomic, mirroring the unique-constraint
// behavior of the postgres implementation.
type MemoryJobsRepository struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	idempotency map[idempotencyRef]string
	deliveries  []domain.WebhookDelivery
}

type idempotencyRef struct {
	ownerRef string
	key      string
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:        make(map[string]*domain.Job),
		idempotency: make(map[idempotencyRef]string),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.IdempotencyKey != "" {
		ref := idempotencyRef{ownerRef: job.OwnerRef, key: job.IdempotencyKey}
		if existingID, taken := r.idempotency[ref]; taken {
			existing, ok := r.jobs[existingID]
			if !ok {
				return nil, false, ErrNotFound
			}
			return cloneJob(existing), false, nil
		}
		r.idempotency[ref] = job.ID
	}

	r.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), true, nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) MarkProcessing(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return ErrInvalidTransition
	}
	job.Status = domain.JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) UpdateProgress(_ context.Context, jobID string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	progress = clampProgress(progress)
	if job.Status != domain.JobStatusProcessing || progress < job.Progress {
		return ErrInvalidTransition
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) MarkCompleted(_ context.Context, jobID string, output json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.Output = append(json.RawMessage(nil), output...)
	job.UpdatedAt = now
	job.CompletedAt = &now
	return nil
}

func (r *MemoryJobsRepository) MarkFailed(
	_ context.Context,
	jobID, errorCode, errorMessage string,
	details json.RawMessage,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorCode = errorCode
	job.ErrorMessage = errorMessage
	job.ErrorDetails = append(json.RawMessage(nil), details...)
	job.UpdatedAt = now
	job.CompletedAt = &now
	return nil
}

func (r *MemoryJobsRepository) RecordWebhookDelivery(_ context.Context, delivery domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now().UTC()
	}
	r.deliveries = append(r.deliveries, delivery)
	return nil
}

func (r *MemoryJobsRepository) UpdateWebhookState(_ context.Context, jobID string, attempts int, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.WebhookAttempts = attempts
	job.WebhookLastAttempt = &now
	job.WebhookCompleted = completed
	return nil
}

// WebhookDeliveries returns a snapshot of recorded delivery attempts for tests.
func (r *MemoryJobsRepository) WebhookDeliveries(jobID string) []domain.WebhookDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.WebhookDelivery, 0, len(r.deliveries))
	for _, delivery := range r.deliveries {
		if delivery.JobID == jobID {
			result = append(result, delivery)
		}
	}
	return result
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Input.Metadata = append(json.RawMessage(nil), job.Input.Metadata...)
	clone.Output = append(json.RawMessage(nil), job.Output...)
	clone.ErrorDetails = append(json.RawMessage(nil), job.ErrorDetails...)
	if job.CompletedAt != nil {
		completedAt := *job.CompletedAt
		clone.CompletedAt = &completedAt
	}
	if job.WebhookLastAttempt != nil {
		lastAttempt := *job.WebhookLastAttempt
		clone.WebhookLastAttempt = &lastAttempt
	}
	return &clone
}
