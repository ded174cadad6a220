package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coachcall/partner-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

const jobColumns = `
	id, owner_ref, status, progress, input, output,
	error_code, error_message, error_details,
	webhook_url, idempotency_key,
	webhook_attempts, webhook_last_attempt, webhook_completed,
	created_at, updated_at, completed_at`

// CreateJob relies on the partial unique index on (owner_ref, idempotency_key)
// for the check-and-reserve: the insert and the reservation are one atomic
// statement, so two concurrent requests with the same key resolve to exactly
// one inserted row.
func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return nil, false, fmt.Errorf("encode job input: %w", err)
	}

	var idempotencyKey *string
	if job.IdempotencyKey != "" {
		idempotencyKey = &job.IdempotencyKey
	}
	var webhookURL *string
	if job.WebhookURL != "" {
		webhookURL = &job.WebhookURL
	}

	command, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, owner_ref, status, progress, input,
			webhook_url, idempotency_key,
			webhook_attempts, webhook_completed,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0,FALSE,$8,$9)
		ON CONFLICT (owner_ref, idempotency_key) WHERE idempotency_key IS NOT NULL
		DO NOTHING
	`,
		job.ID,
		job.OwnerRef,
		string(job.Status),
		job.Progress,
		input,
		webhookURL,
		idempotencyKey,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	if command.RowsAffected() > 0 {
		return cloneJob(job), true, nil
	}

	// The (owner, key) pair is already reserved: return the original job.
	existing, err := r.findByIdempotencyKey(ctx, job.OwnerRef, job.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresJobsRepository) findByIdempotencyKey(ctx context.Context, ownerRef, key string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE owner_ref = $1 AND idempotency_key = $2
	`, ownerRef, key)
	return scanJob(row)
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, jobID)
	return scanJob(row)
}

func (r *PostgresJobsRepository) MarkProcessing(ctx context.Context, jobID string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, jobID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if command.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	progress = clampProgress(progress)
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET progress = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing' AND progress <= $2
	`, jobID, progress)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if command.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

func (r *PostgresJobsRepository) MarkCompleted(ctx context.Context, jobID string, output json.RawMessage) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed',
			progress = 100,
			output = $2,
			updated_at = now(),
			completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, jobID, []byte(output))
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

func (r *PostgresJobsRepository) MarkFailed(
	ctx context.Context,
	jobID, errorCode, errorMessage string,
	details json.RawMessage,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
			error_code = $2,
			error_message = $3,
			error_details = $4,
			updated_at = now(),
			completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, jobID, errorCode, errorMessage, []byte(details))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

func (r *PostgresJobsRepository) RecordWebhookDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			job_id, url, http_status, attempt, duration_ms, success, error_message, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`,
		delivery.JobID,
		delivery.URL,
		delivery.HTTPStatus,
		delivery.Attempt,
		delivery.DurationMS,
		delivery.Success,
		delivery.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) UpdateWebhookState(ctx context.Context, jobID string, attempts int, completed bool) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET webhook_attempts = $2,
			webhook_completed = $3,
			webhook_last_attempt = now()
		WHERE id = $1
	`, jobID, attempts, completed)
	if err != nil {
		return fmt.Errorf("update webhook state: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// transitionError distinguishes a missing job from a lost compare-and-set.
func (r *PostgresJobsRepository) transitionError(ctx context.Context, jobID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job            domain.Job
		status         string
		input          []byte
		output         []byte
		errorCode      *string
		errorMessage   *string
		errorDetails   []byte
		webhookURL     *string
		idempotencyKey *string
		lastAttempt    *time.Time
		completedAt    *time.Time
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerRef,
		&status,
		&job.Progress,
		&input,
		&output,
		&errorCode,
		&errorMessage,
		&errorDetails,
		&webhookURL,
		&idempotencyKey,
		&job.WebhookAttempts,
		&lastAttempt,
		&job.WebhookCompleted,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = domain.JobStatus(status)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return nil, fmt.Errorf("decode job input: %w", err)
		}
	}
	job.Output = json.RawMessage(output)
	job.ErrorDetails = json.RawMessage(errorDetails)
	if errorCode != nil {
		job.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	if webhookURL != nil {
		job.WebhookURL = *webhookURL
	}
	if idempotencyKey != nil {
		job.IdempotencyKey = *idempotencyKey
	}
	job.WebhookLastAttempt = lastAttempt
	job.CompletedAt = completedAt
	return &job, nil
}
