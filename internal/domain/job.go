package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobInput is the immutable snapshot of a partner's analysis request.
type JobInput struct {
	AudioFile    string          `json:"audio_file"`
	CompanyID    string          `json:"company_id"`
	AgentID      string          `json:"agent_id"`
	CallType     string          `json:"call_type"`
	AnalysisType string          `json:"analysis_type"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Job is the canonical async analysis unit owned by a single partner.
type Job struct {
	ID             string
	OwnerRef       string
	Status         JobStatus
	Progress       int
	Input          JobInput
	Output         json.RawMessage
	ErrorCode      string
	ErrorMessage   string
	ErrorDetails   json.RawMessage
	WebhookURL     string
	IdempotencyKey string

	WebhookAttempts    int
	WebhookLastAttempt *time.Time
	WebhookCompleted   bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// JobMessage is the transport format sent to queue backends.
type JobMessage struct {
	JobID       string    `json:"job_id"`
	OwnerRef    string    `json:"owner_ref"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// AnalysisResult is the structured shape expected from the analysis backend
// after extraction repair.
type AnalysisResult struct {
	CallID          string          `json:"call_id,omitempty"`
	Transcript      string          `json:"transcript"`
	ToneAnalysis    json.RawMessage `json:"tone_analysis,omitempty"`
	ContentAnalysis json.RawMessage `json:"content_analysis,omitempty"`
	OverallScore    *float64        `json:"overall_score,omitempty"`
}

// WebhookDelivery records one delivery attempt against a partner callback URL.
type WebhookDelivery struct {
	JobID        string
	URL          string
	HTTPStatus   int
	Attempt      int
	DurationMS   int64
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}
