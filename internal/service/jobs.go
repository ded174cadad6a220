package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachcall/partner-api/internal/domain"
	"github.com/coachcall/partner-api/internal/queue"
	"github.com/coachcall/partner-api/internal/repository"
)

// ErrForbidden is returned when a partner asks for a job owned by another
// partner.
var ErrForbidden = errors.New("job belongs to another partner")

type CreateJobParams struct {
	Input          domain.JobInput
	WebhookURL     string
	IdempotencyKey string
}

type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
}

func NewJobsService(repo repository.JobsRepository, producer queue.Producer) *JobsService {
	return &JobsService{repo: repo, producer: producer}
}

// Create registers a pending job for the partner and enqueues it for
// processing. When the idempotency key was already used by this partner the
// original job is returned with duplicate=true and nothing is enqueued.
func (s *JobsService) Create(
	ctx context.Context,
	ownerRef string,
	params CreateJobParams,
) (*domain.Job, bool, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		OwnerRef:       ownerRef,
		Status:         domain.JobStatusPending,
		Input:          params.Input,
		WebhookURL:     params.WebhookURL,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, created, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	if !created {
		return stored, true, nil
	}

	message := domain.JobMessage{
		JobID:       stored.ID,
		OwnerRef:    ownerRef,
		Attempt:     0,
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		_ = s.repo.MarkFailed(ctx, stored.ID, "enqueue_failed", "job could not be scheduled for processing", nil)
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}

	return stored, false, nil
}

// GetForOwner loads a job and enforces that the requesting partner owns it.
// Foreign jobs surface as forbidden rather than not found so a partner can
// distinguish a typo from a permissions problem.
func (s *JobsService) GetForOwner(ctx context.Context, ownerRef, jobID string) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerRef != ownerRef {
		return nil, ErrForbidden
	}
	return job, nil
}
