package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coachcall/partner-api/internal/analysis"
	"github.com/coachcall/partner-api/internal/cache"
	httpserver "github.com/coachcall/partner-api/internal/http"
	"github.com/coachcall/partner-api/internal/http/handlers"
	"github.com/coachcall/partner-api/internal/queue"
	"github.com/coachcall/partner-api/internal/repository"
	"github.com/coachcall/partner-api/internal/service"
	"github.com/coachcall/partner-api/internal/webhook"
	"github.com/coachcall/partner-api/internal/worker"
)

// malformedAnalysisOutput is the kind of fenced, comma-dropping text the
// analysis backend produces under load. The pipeline must still recover a
// clean result object from it.
const malformedAnalysisOutput = "```json\n" +
	`{"call_id": "call-e2e-1"` + "\n" +
	`"transcript": "Agent welcomed the customer and reviewed the contract."` + "\n" +
	`"tone_analysis": {"sentiment": "positive"},` + "\n" +
	`"content_analysis": {"topics": ["contract", "pricing"]},` + "\n" +
	`"overall_score": 8.5}` + "\n```"

type integrationRuntime struct {
	server     *httptest.Server
	backend    *httptest.Server
	webhookURL string
	webhooks   chan []byte
	cancel     context.CancelFunc
}

func startIntegrationRuntime(t *testing.T, backendOutput string) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)
	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(2048, 3, logger)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoded, _ := json.Marshal(map[string]string{"output": backendOutput})
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encoded)
	}))

	webhooks := make(chan []byte, 8)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		webhooks <- body
		w.WriteHeader(http.StatusOK)
	}))

	analysisClient := analysis.NewHTTPClient(analysis.Config{
		APIKey:  "integration-key",
		BaseURL: backend.URL,
	})
	dispatcher := webhook.NewDispatcher(webhook.Config{
		Secret:  "integration-secret",
		Backoff: time.Millisecond,
	}, repo, logger)

	jobsService := service.NewJobsService(repo, localQueue)
	api := handlers.NewAPI(jobsService, cache.NewStatusCache(cache.Config{TTL: 10 * time.Minute}))
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		PartnerAPIKeys: map[string]string{"tok-e2e": "partner-e2e"},
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(worker.Config{Concurrency: 2}, localQueue, repo, analysisClient, dispatcher, logger)
	go processor.Start(ctx)

	server := httptest.NewServer(router)

	return integrationRuntime{
		server:     server,
		backend:    backend,
		webhookURL: receiver.URL,
		webhooks:   webhooks,
		cancel: func() {
			cancel()
			server.Close()
			backend.Close()
			receiver.Close()
		},
	}
}

func postJSON(
	t *testing.T,
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer tok-e2e")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build get request: %v", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer tok-e2e")

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode get response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func waitForTerminal(
	t *testing.T,
	client *http.Client,
	baseURL string,
	jobID string,
	timeout time.Duration,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, body := getJSON(t, client, fmt.Sprintf("%s/v1/jobs/%s/status", baseURL, jobID))
		if status != http.StatusOK {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		jobStatus, _ := body["status"].(string)
		if jobStatus == "completed" || jobStatus == "failed" {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for job %s to reach a terminal state", jobID)
	return nil
}

func TestAnalysisJobLifecycle(t *testing.T) {
	runtime := startIntegrationRuntime(t, malformedAnalysisOutput)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	createPayload := map[string]any{
		"audio_file":      "https://cdn.example.com/calls/e2e-1.mp3",
		"company_id":      "company-e2e",
		"agent_id":        "agent-e2e",
		"call_type":       "outbound",
		"analysis_type":   "full",
		"idempotency_key": "e2e-key-1",
	}

	createStatus, createBody := postJSON(t, client, baseURL+"/v1/jobs", createPayload, nil)
	if createStatus != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %+v", createStatus, createBody)
	}
	jobID, _ := createBody["job_id"].(string)
	if jobID == "" {
		t.Fatalf("missing job_id in create response: %+v", createBody)
	}
	if createBody["status"] != "queued" {
		t.Fatalf("expected queued, got %v", createBody["status"])
	}

	// Replaying the same idempotency key must return the original job.
	replayStatus, replayBody := postJSON(t, client, baseURL+"/v1/jobs", createPayload, nil)
	if replayStatus != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d: %+v", replayStatus, replayBody)
	}
	if replayBody["job_id"] != jobID {
		t.Fatalf("replay returned different job: %v vs %s", replayBody["job_id"], jobID)
	}

	terminal := waitForTerminal(t, client, baseURL, jobID, 5*time.Second)
	if terminal["status"] != "completed" {
		t.Fatalf("expected completed job, got %+v", terminal)
	}
	if terminal["progress"] != 100.0 {
		t.Fatalf("expected progress 100, got %v", terminal["progress"])
	}

	results, _ := terminal["results"].(map[string]any)
	if results == nil {
		t.Fatalf("completed job has no results: %+v", terminal)
	}
	if results["transcript"] != "Agent welcomed the customer and reviewed the contract." {
		t.Fatalf("repaired transcript missing: %v", results["transcript"])
	}
	if results["overall_score"] != 8.5 {
		t.Fatalf("repaired score missing: %v", results["overall_score"])
	}
}

func TestAnalysisJobFailurePath(t *testing.T) {
	runtime := startIntegrationRuntime(t, "the model produced nothing usable here")
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	createStatus, createBody := postJSON(t, client, baseURL+"/v1/jobs", map[string]any{
		"audio_file": "https://cdn.example.com/calls/e2e-2.mp3",
		"company_id": "company-e2e",
		"agent_id":   "agent-e2e",
	}, nil)
	if createStatus != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", createStatus)
	}
	jobID, _ := createBody["job_id"].(string)

	terminal := waitForTerminal(t, client, baseURL, jobID, 5*time.Second)
	if terminal["status"] != "failed" {
		t.Fatalf("expected failed job, got %+v", terminal)
	}
	if terminal["error_code"] != "empty_analysis" {
		t.Fatalf("expected empty_analysis, got %v", terminal["error_code"])
	}
	if _, ok := terminal["results"]; ok {
		t.Fatal("failed job must not expose results")
	}
}

func TestWebhookDeliveryOnCompletion(t *testing.T) {
	runtime := startIntegrationRuntime(t, malformedAnalysisOutput)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	createStatus, createBody := postJSON(t, client, baseURL+"/v1/jobs", map[string]any{
		"audio_file":  "https://cdn.example.com/calls/e2e-3.mp3",
		"company_id":  "company-e2e",
		"agent_id":    "agent-e2e",
		"webhook_url": runtime.webhookURL,
	}, nil)
	if createStatus != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", createStatus)
	}
	jobID, _ := createBody["job_id"].(string)

	waitForTerminal(t, client, baseURL, jobID, 5*time.Second)

	select {
	case body := <-runtime.webhooks:
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("webhook body is not JSON: %v", err)
		}
		if payload["job_id"] != jobID {
			t.Fatalf("webhook for wrong job: %v", payload["job_id"])
		}
		if payload["status"] != "completed" {
			t.Fatalf("webhook carries wrong status: %v", payload["status"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}
