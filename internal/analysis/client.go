// Package analysis wraps the hosted call-analysis backend (transcription +
// LLM scoring). The backend returns free text that is expected, but not
// guaranteed, to contain one JSON object; repair happens downstream.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coachcall/partner-api/internal/domain"
)

var ErrUnavailable = errors.New("analysis backend is not configured")

type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

type HTTPClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewHTTPClient(config Config) *HTTPClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://analysis.coachcall.internal"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &HTTPClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}
}

func (c *HTTPClient) Available() bool {
	return c.apiKey != ""
}

// AnalyzeCall submits the job input and returns the backend's raw textual
// result. Transport errors and 429/5xx responses are retried with backoff.
func (c *HTTPClient) AnalyzeCall(ctx context.Context, input domain.JobInput) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal analysis payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callAnalyzeAPI(ctx, payload)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !isRetryableBackendError(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown analysis backend error")
	}
	return "", lastErr
}

func (c *HTTPClient) callAnalyzeAPI(ctx context.Context, payload []byte) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/v1/analyze",
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("create analysis request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("analysis timeout: %w", err)
		}
		return "", fmt.Errorf("analysis transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return "", fmt.Errorf("read analysis body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return "", &backendHTTPError{StatusCode: httpResponse.StatusCode, Message: message}
	}

	var raw struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("decode analysis response: %w", err)
	}
	if strings.TrimSpace(raw.Output) == "" {
		return "", errors.New("analysis response without text output")
	}
	return raw.Output, nil
}

type backendHTTPError struct {
	StatusCode int
	Message    string
}

func (e *backendHTTPError) Error() string {
	return fmt.Sprintf("analysis backend status %d: %s", e.StatusCode, e.Message)
}

func isRetryableBackendError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *backendHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}
