package service

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/coachcall/partner-api/internal/domain"
	"github.com/coachcall/partner-api/internal/queue"
	"github.com/coachcall/partner-api/internal/repository"
)

type failingProducer struct{}

func (failingProducer) Enqueue(ctx context.Context, message domain.JobMessage) error {
	return errors.New("stream unavailable")
}

func newTestService() (*JobsService, *repository.MemoryJobsRepository, *queue.LocalQueue) {
	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(16, 3, log.New(io.Discard, "", 0))
	return NewJobsService(repo, localQueue), repo, localQueue
}

func testParams(key string) CreateJobParams {
	return CreateJobParams{
		Input: domain.JobInput{
			AudioFile: "https://cdn.example.com/call-1.mp3",
			CompanyID: "company-1",
			AgentID:   "agent-1",
		},
		IdempotencyKey: key,
	}
}

func TestCreateEnqueuesPendingJob(t *testing.T) {
	svc, repo, _ := newTestService()

	job, duplicate, err := svc.Create(context.Background(), "partner-1", testParams("k1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if duplicate {
		t.Fatal("first submission must not be a duplicate")
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.OwnerRef != "partner-1" {
		t.Fatalf("unexpected owner %s", stored.OwnerRef)
	}
}

func TestCreateReplaysDuplicateKey(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, _, err := svc.Create(ctx, "partner-1", testParams("k1"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	second, duplicate, err := svc.Create(ctx, "partner-1", testParams("k1"))
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if !duplicate {
		t.Fatal("expected duplicate=true for reused key")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned different job: %s vs %s", second.ID, first.ID)
	}
}

func TestCreateSameKeyDifferentPartners(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, _, err := svc.Create(ctx, "partner-1", testParams("shared"))
	if err != nil {
		t.Fatalf("partner-1 create: %v", err)
	}
	second, duplicate, err := svc.Create(ctx, "partner-2", testParams("shared"))
	if err != nil {
		t.Fatalf("partner-2 create: %v", err)
	}
	if duplicate {
		t.Fatal("keys are scoped per partner")
	}
	if second.ID == first.ID {
		t.Fatal("partners must get distinct jobs")
	}
}

func TestCreateMarksJobFailedWhenEnqueueFails(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	svc := NewJobsService(repo, failingProducer{})
	ctx := context.Background()

	job, _, err := svc.Create(ctx, "partner-1", testParams("k1"))
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	if job != nil {
		t.Fatal("no job should be returned on enqueue failure")
	}

	// The reserved key must replay the failed job, not silently retry.
	replay, duplicate, err := svc.Create(ctx, "partner-1", testParams("k1"))
	if err != nil {
		t.Fatalf("replay after enqueue failure: %v", err)
	}
	if !duplicate {
		t.Fatal("expected duplicate replay of failed job")
	}

	stored, err := repo.GetJob(ctx, replay.ID)
	if err != nil {
		t.Fatalf("reload failed job: %v", err)
	}
	if stored.Status != domain.JobStatusFailed || stored.ErrorCode != "enqueue_failed" {
		t.Fatalf("expected enqueue_failed, got status=%s code=%s", stored.Status, stored.ErrorCode)
	}
}

func TestGetForOwnerEnforcesOwnership(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	job, _, err := svc.Create(ctx, "partner-1", testParams(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetForOwner(ctx, "partner-1", job.ID); err != nil {
		t.Fatalf("owner must read own job: %v", err)
	}
	if _, err := svc.GetForOwner(ctx, "partner-2", job.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetForOwner(ctx, "partner-1", "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
