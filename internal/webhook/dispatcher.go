// Package webhook delivers terminal job notifications to partner callback
// URLs. Delivery is best effort: a failed webhook never changes the job's
// status, only its delivery bookkeeping.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/coachcall/partner-api/internal/domain"
	"github.com/coachcall/partner-api/internal/repository"
)

const userAgent = "PartnerAPI-Webhook/1.0"

type Config struct {
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
}

type Dispatcher struct {
	secret      string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
	repo        repository.JobsRepository
	logger      *log.Logger
}

func NewDispatcher(config Config, repo repository.JobsRepository, logger *log.Logger) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Dispatcher{
		secret:      config.Secret,
		timeout:     config.Timeout,
		maxAttempts: config.MaxAttempts,
		backoff:     config.Backoff,
		httpClient:  config.HTTPClient,
		repo:        repo,
		logger:      logger,
	}
}

// Deliver posts the job's terminal status payload to its callback URL,
// retrying with exponential backoff. Each attempt is recorded in the delivery
// log and the job's webhook counters are updated regardless of the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, job *domain.Job) error {
	if job.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(domain.NewStatusPayload(job))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	webhookID := uuid.New().String()
	attempts := 0

	err = retry.Do(
		func() error {
			attempts++
			return d.post(ctx, job, payload, webhookID, attempts)
		},
		retry.Context(ctx),
		retry.Attempts(uint(d.maxAttempts)),
		retry.Delay(d.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)

	delivered := err == nil
	if stateErr := d.repo.UpdateWebhookState(ctx, job.ID, attempts, delivered); stateErr != nil {
		d.logger.Printf("webhook state update failed job=%s: %v", job.ID, stateErr)
	}

	if err != nil {
		d.logger.Printf("webhook delivery exhausted job=%s url=%s attempts=%d: %v",
			job.ID, job.WebhookURL, attempts, err)
		return err
	}

	d.logger.Printf("webhook delivered job=%s attempts=%d", job.ID, attempts)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, job *domain.Job, payload []byte, webhookID string, attempt int) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		job.WebhookURL,
		bytes.NewReader(payload),
	)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create webhook request: %w", err))
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", userAgent)
	httpRequest.Header.Set("X-Webhook-ID", webhookID)
	httpRequest.Header.Set("X-Webhook-Attempt", strconv.Itoa(attempt))
	if d.secret != "" {
		httpRequest.Header.Set("X-Partner-Signature", Sign(d.secret, payload))
	}

	started := time.Now()
	httpResponse, err := d.httpClient.Do(httpRequest)
	duration := time.Since(started)

	delivery := domain.WebhookDelivery{
		JobID:      job.ID,
		URL:        job.WebhookURL,
		Attempt:    attempt,
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}

	if err != nil {
		delivery.ErrorMessage = err.Error()
		d.record(ctx, delivery)
		return fmt.Errorf("webhook transport error: %w", err)
	}
	defer httpResponse.Body.Close()
	io.Copy(io.Discard, io.LimitReader(httpResponse.Body, 4096))

	delivery.HTTPStatus = httpResponse.StatusCode
	if httpResponse.StatusCode >= 200 && httpResponse.StatusCode <= 299 {
		delivery.Success = true
		d.record(ctx, delivery)
		return nil
	}

	delivery.ErrorMessage = fmt.Sprintf("webhook endpoint status %d", httpResponse.StatusCode)
	d.record(ctx, delivery)
	return fmt.Errorf("webhook endpoint status %d", httpResponse.StatusCode)
}

func (d *Dispatcher) record(ctx context.Context, delivery domain.WebhookDelivery) {
	if err := d.repo.RecordWebhookDelivery(ctx, delivery); err != nil {
		d.logger.Printf("webhook delivery log failed job=%s: %v", delivery.JobID, err)
	}
}

// Sign computes the hex HMAC-SHA256 of the payload. Partners verify this
// against the X-Partner-Signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
