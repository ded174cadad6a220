package domain

import (
	"encoding/json"
	"time"
)

// StatusPayload is the partner-visible projection of a Job. The same shape is
// served on polling reads and delivered to webhook callbacks.
type StatusPayload struct {
	JobID        string          `json:"job_id"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Results      json.RawMessage `json:"results,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`
}

// NewStatusPayload projects a Job onto the wire shape. Results are only
// exposed on completed jobs, error fields only on failed ones.
func NewStatusPayload(job *Job) StatusPayload {
	payload := StatusPayload{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.Status == JobStatusCompleted && len(job.Output) > 0 {
		payload.Results = append(json.RawMessage(nil), job.Output...)
	}
	if job.Status == JobStatusFailed {
		payload.ErrorCode = job.ErrorCode
		payload.ErrorMessage = job.ErrorMessage
		if len(job.ErrorDetails) > 0 {
			payload.ErrorDetails = append(json.RawMessage(nil), job.ErrorDetails...)
		}
	}
	return payload
}
