// Command load runs a local benchmark against an in-process API instance:
// job submission, idempotent replay and status polling, with p50/p95/p99
// latency and a basic SLO evaluation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachcall/partner-api/internal/analysis"
	"github.com/coachcall/partner-api/internal/cache"
	httpserver "github.com/coachcall/partner-api/internal/http"
	"github.com/coachcall/partner-api/internal/http/handlers"
	"github.com/coachcall/partner-api/internal/queue"
	"github.com/coachcall/partner-api/internal/repository"
	"github.com/coachcall/partner-api/internal/service"
	"github.com/coachcall/partner-api/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server  *httptest.Server
	backend *httptest.Server
	cancel  context.CancelFunc
}

func main() {
	submitTotal := flag.Int("submit-total", 300, "total job submission requests")
	submitConcurrency := flag.Int("submit-concurrency", 30, "concurrency for job submissions")
	replayTotal := flag.Int("replay-total", 200, "total idempotent replay requests")
	replayConcurrency := flag.Int("replay-concurrency", 25, "concurrency for replay requests")
	pollTotal := flag.Int("poll-total", 400, "total status poll requests")
	pollConcurrency := flag.Int("poll-concurrency", 40, "concurrency for status polls")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	var idCounter int64

	submitScenario := runScenario("jobs_submit", *submitTotal, *submitConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"audio_file":      fmt.Sprintf("https://cdn.example.com/calls/load-%d.mp3", index),
			"company_id":      fmt.Sprintf("company-%d", index%16),
			"agent_id":        fmt.Sprintf("agent-%d", index%48),
			"call_type":       "outbound",
			"analysis_type":   "full",
			"idempotency_key": fmt.Sprintf("submit-%d-%d", requestID, time.Now().UnixNano()),
		}
		return postJSON(client, env.server.URL+"/v1/jobs", payload, http.StatusAccepted)
	})

	// All replay requests share one key: the first wins with 202, the rest
	// must return the existing job with 200.
	replayKey := fmt.Sprintf("replay-%d", time.Now().UnixNano())
	replayPayload := map[string]any{
		"audio_file":      "https://cdn.example.com/calls/replay.mp3",
		"company_id":      "company-replay",
		"agent_id":        "agent-replay",
		"idempotency_key": replayKey,
	}
	if err := postJSON(client, env.server.URL+"/v1/jobs", replayPayload, http.StatusAccepted); err != nil {
		log.Fatalf("failed to seed replay job: %v", err)
	}
	replayScenario := runScenario("jobs_replay", *replayTotal, *replayConcurrency, func(index int) error {
		return postJSON(client, env.server.URL+"/v1/jobs", replayPayload, http.StatusOK)
	})

	pollJobID, err := submitForPolling(client, env.server.URL)
	if err != nil {
		log.Fatalf("failed to seed polling job: %v", err)
	}
	pollScenario := runScenario("jobs_status_poll", *pollTotal, *pollConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/v1/jobs/"+pollJobID+"/status", http.StatusOK)
	})

	results := []scenarioResult{submitScenario, replayScenario, pollScenario}
	slo := map[string]bool{
		"submit_p95_le_500ms": submitScenario.P95MS <= 500,
		"replay_p95_le_250ms": replayScenario.P95MS <= 250,
		"poll_p95_le_100ms":   pollScenario.P95MS <= 100,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(4096, 3, logger)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		output := `{"transcript": "Benchmark call transcript.", ` +
			`"tone_analysis": {"sentiment": "neutral"}, ` +
			`"content_analysis": {"topics": ["benchmark"]}, "overall_score": 7}`
		encoded, _ := json.Marshal(map[string]string{"output": output})
		_, _ = w.Write(encoded)
	}))
	analysisClient := analysis.NewHTTPClient(analysis.Config{
		APIKey:  "benchmark-key",
		BaseURL: backend.URL,
	})

	jobsService := service.NewJobsService(repo, localQueue)
	api := handlers.NewAPI(jobsService, cache.NewStatusCache(cache.Config{TTL: 10 * time.Minute}))
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(worker.Config{Concurrency: 4}, localQueue, repo, analysisClient, nil, logger)
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server:  server,
		backend: backend,
		cancel: func() {
			cancel()
			server.Close()
			backend.Close()
		},
	}, nil
}

func submitForPolling(client *http.Client, baseURL string) (string, error) {
	payload := map[string]any{
		"audio_file": "https://cdn.example.com/calls/poll.mp3",
		"company_id": "company-poll",
		"agent_id":   "agent-poll",
	}
	encoded, _ := json.Marshal(payload)

	response, err := client.Post(baseURL+"/v1/jobs", "application/json", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	var decoded struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.JobID == "" {
		return "", fmt.Errorf("missing job_id in seed response")
	}
	return decoded.JobID, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(client *http.Client, url string, payload any, expectedStatus int) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
