// Package worker consumes queued jobs and runs them through the analysis
// pipeline: backend call, JSON repair, quality validation, result persistence
// and webhook notification.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coachcall/partner-api/internal/analysis"
	"github.com/coachcall/partner-api/internal/domain"
	"github.com/coachcall/partner-api/internal/extract"
	"github.com/coachcall/partner-api/internal/quality"
	"github.com/coachcall/partner-api/internal/queue"
	"github.com/coachcall/partner-api/internal/repository"
	"github.com/coachcall/partner-api/internal/webhook"
)

// Analyzer is the analysis backend the processor drives.
type Analyzer interface {
	Available() bool
	AnalyzeCall(ctx context.Context, input domain.JobInput) (string, error)
}

type Config struct {
	Concurrency     int
	AnalysisTimeout time.Duration
}

// Processor consumes queue messages and persists status transitions. Every
// transition is a compare-and-set, so a redelivered message for a job that
// already moved on is logged and dropped instead of reprocessed.
type Processor struct {
	consumer        queue.Consumer
	repo            repository.JobsRepository
	analyzer        Analyzer
	validator       *quality.AnalysisValidator
	dispatcher      *webhook.Dispatcher
	logger          *log.Logger
	concurrency     int
	analysisTimeout time.Duration

	notifications sync.WaitGroup
}

func NewProcessor(
	config Config,
	consumer queue.Consumer,
	repo repository.JobsRepository,
	analyzer Analyzer,
	dispatcher *webhook.Dispatcher,
	logger *log.Logger,
) *Processor {
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.AnalysisTimeout <= 0 {
		config.AnalysisTimeout = 3 * time.Minute
	}

	return &Processor{
		consumer:        consumer,
		repo:            repo,
		analyzer:        analyzer,
		validator:       quality.NewAnalysisValidator(),
		dispatcher:      dispatcher,
		logger:          logger,
		concurrency:     config.Concurrency,
		analysisTimeout: config.AnalysisTimeout,
	}
}

// Start runs the consume loop until the context is cancelled, then waits for
// in-flight webhook notifications to settle.
func (p *Processor) Start(ctx context.Context) {
	var loops sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		loops.Add(1)
		go func() {
			defer loops.Done()
			p.consumeLoop(ctx)
		}()
	}
	loops.Wait()
	p.notifications.Wait()
}

func (p *Processor) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.JobMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if p.logger != nil {
				p.logger.Printf("dropping message for unknown job %s", message.JobID)
			}
			return nil
		}
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}

	if err := p.repo.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			if p.logger != nil {
				p.logger.Printf("skipping job %s already past pending (status=%s)", job.ID, job.Status)
			}
			return nil
		}
		return fmt.Errorf("mark processing %s: %w", job.ID, err)
	}
	p.progress(ctx, job.ID, 10)

	if p.analyzer == nil || !p.analyzer.Available() {
		return p.fail(ctx, job.ID, "analysis_unavailable", "analysis backend is not configured", nil)
	}

	p.progress(ctx, job.ID, 30)
	analysisCtx, cancel := context.WithTimeout(ctx, p.analysisTimeout)
	rawOutput, analysisErr := p.analyzer.AnalyzeCall(analysisCtx, job.Input)
	cancel()
	if analysisErr != nil {
		code, message := classifyAnalysisError(analysisErr)
		return p.fail(ctx, job.ID, code, message, nil)
	}

	repaired := extract.Raw(rawOutput)
	if repaired == "{}" {
		return p.fail(ctx, job.ID, "empty_analysis", "analysis backend returned no recoverable result", nil)
	}

	cleaned, validationErr := p.validator.ValidateAnalysis(json.RawMessage(repaired))
	if validationErr != nil {
		details, _ := json.Marshal(map[string]string{"reason": validationErr.Error()})
		return p.fail(ctx, job.ID, "invalid_analysis", "analysis result failed validation", details)
	}

	p.progress(ctx, job.ID, 90)
	if err := p.repo.MarkCompleted(ctx, job.ID, cleaned); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			if p.logger != nil {
				p.logger.Printf("job %s reached terminal state concurrently, skipping completion", job.ID)
			}
			return nil
		}
		return fmt.Errorf("mark completed %s: %w", job.ID, err)
	}

	if p.logger != nil {
		p.logger.Printf("job completed job_id=%s owner=%s", job.ID, job.OwnerRef)
	}
	p.notify(ctx, job.ID)
	return nil
}

// fail marks the job failed and, when this worker won the terminal
// transition, triggers the webhook. Business failures are acknowledged so the
// queue does not redeliver them.
func (p *Processor) fail(ctx context.Context, jobID, code, message string, details json.RawMessage) error {
	if err := p.repo.MarkFailed(ctx, jobID, code, message, details); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("mark failed %s: %w", jobID, err)
	}
	if p.logger != nil {
		p.logger.Printf("job failed job_id=%s code=%s: %s", jobID, code, message)
	}
	p.notify(ctx, jobID)
	return nil
}

func (p *Processor) progress(ctx context.Context, jobID string, progress int) {
	if err := p.repo.UpdateProgress(ctx, jobID, progress); err != nil &&
		!errors.Is(err, repository.ErrInvalidTransition) && p.logger != nil {
		p.logger.Printf("progress update failed job=%s: %v", jobID, err)
	}
}

// notify delivers the terminal webhook on a detached context so an API
// shutdown does not abandon a notification mid-flight.
func (p *Processor) notify(ctx context.Context, jobID string) {
	if p.dispatcher == nil {
		return
	}

	p.notifications.Add(1)
	go func() {
		defer p.notifications.Done()

		deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()

		job, err := p.repo.GetJob(deliveryCtx, jobID)
		if err != nil {
			if p.logger != nil {
				p.logger.Printf("webhook reload failed job=%s: %v", jobID, err)
			}
			return
		}
		if err := p.dispatcher.Deliver(deliveryCtx, job); err != nil && p.logger != nil {
			p.logger.Printf("webhook delivery failed job=%s: %v", jobID, err)
		}
	}()
}

// Wait blocks until background webhook notifications finish. Used by tests.
func (p *Processor) Wait() {
	p.notifications.Wait()
}

func classifyAnalysisError(err error) (code string, message string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "analysis_timeout", "analysis did not finish within the allotted time"
	case errors.Is(err, analysis.ErrUnavailable):
		return "analysis_unavailable", "analysis backend is not configured"
	default:
		return "analysis_failed", err.Error()
	}
}
