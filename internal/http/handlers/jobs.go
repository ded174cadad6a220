package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coachcall/partner-api/internal/domain"
	"github.com/coachcall/partner-api/internal/http/middleware"
	"github.com/coachcall/partner-api/internal/repository"
	"github.com/coachcall/partner-api/internal/service"
)

type createJobRequest struct {
	AudioFile      string          `json:"audio_file" validate:"required,url,max=2048"`
	CompanyID      string          `json:"company_id" validate:"required,max=64"`
	AgentID        string          `json:"agent_id" validate:"required,max=64"`
	CallType       string          `json:"call_type" validate:"omitempty,oneof=inbound outbound"`
	AnalysisType   string          `json:"analysis_type" validate:"omitempty,oneof=full tone_only content_only"`
	WebhookURL     string          `json:"webhook_url" validate:"omitempty,url,max=2048"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type createJobResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	EstimatedTime string `json:"estimated_time"`
	Message       string `json:"message"`
}

// CreateJob accepts an analysis request and returns 202 with the queued job.
// A replayed idempotency key returns the original job with 200 instead.
func (api *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request createJobRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if err := api.validate.Struct(request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	idempotencyKey := strings.TrimSpace(request.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	}
	if len(idempotencyKey) > 128 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "idempotency key exceeds the maximum length of 128")
		return
	}

	params := service.CreateJobParams{
		Input: domain.JobInput{
			AudioFile:    request.AudioFile,
			CompanyID:    request.CompanyID,
			AgentID:      request.AgentID,
			CallType:     defaultString(request.CallType, "outbound"),
			AnalysisType: defaultString(request.AnalysisType, "full"),
			Metadata:     request.Metadata,
		},
		WebhookURL:     request.WebhookURL,
		IdempotencyKey: idempotencyKey,
	}

	partnerRef := middleware.GetPartnerRef(r.Context())
	job, duplicate, err := api.jobsService.Create(r.Context(), partnerRef, params)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create job")
		return
	}

	w.Header().Set("X-API-Version", apiVersion)
	w.Header().Set("Location", "/v1/jobs/"+job.ID+"/status")

	if duplicate {
		writeJSON(w, http.StatusOK, createJobResponse{
			JobID:         job.ID,
			Status:        wireStatus(job.Status),
			EstimatedTime: estimatedTime(job.Input.AnalysisType),
			Message:       "Duplicate request detected. Returning existing job.",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, createJobResponse{
		JobID:         job.ID,
		Status:        wireStatus(job.Status),
		EstimatedTime: estimatedTime(params.Input.AnalysisType),
		Message:       "Analysis queued for processing.",
	})
}

// JobStatus serves the polling endpoint. Terminal payloads are immutable and
// are cached both in-process and at the edge via Cache-Control.
func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	// Documented path is /v1/jobs/{id}/status; the bare id also resolves.
	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/jobs/"))
	jobID = strings.TrimSuffix(jobID, "/status")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	partnerRef := middleware.GetPartnerRef(r.Context())
	w.Header().Set("X-API-Version", apiVersion)

	if api.statusCache != nil {
		if cached, ok := api.statusCache.Get(partnerRef + "/" + jobID); ok {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	job, err := api.jobsService.GetForOwner(r.Context(), partnerRef, jobID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "forbidden", "job belongs to another partner")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		}
		return
	}

	payload := domain.NewStatusPayload(job)
	if job.Status.Terminal() {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if api.statusCache != nil {
			if encoded, err := json.Marshal(payload); err == nil {
				api.statusCache.Set(partnerRef+"/"+jobID, encoded)
			}
		}
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}

	writeJSON(w, http.StatusOK, payload)
}

func wireStatus(status domain.JobStatus) string {
	if status == domain.JobStatusPending {
		return "queued"
	}
	return string(status)
}

func estimatedTime(analysisType string) string {
	if analysisType == "tone_only" {
		return "1-2 minutes"
	}
	return "2-3 minutes"
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
