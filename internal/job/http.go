package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// HTTPTransport talks to a remote job backend over REST.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTransport creates a transport against the given backend base URL.
func NewHTTPTransport(baseURL, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start submits a question to POST /api/jobs.
func (t *HTTPTransport) Start(ctx context.Context, req *model.StartJobRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal start request: %w", err)
	}

	var resp model.StartJobResponse
	if err := t.do(ctx, http.MethodPost, t.baseURL+"/api/jobs", bytes.NewReader(body), &resp); err != nil {
		return "", fmt.Errorf("failed to start job: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("backend returned empty job id")
	}
	return resp.JobID, nil
}

// Status reads GET /api/jobs/{id}.
func (t *HTTPTransport) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	var resp model.JobStatusResponse
	if err := t.do(ctx, http.MethodGet, t.baseURL+"/api/jobs/"+jobID, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	return &resp, nil
}

// Cancel issues DELETE /api/jobs/{id}.
func (t *HTTPTransport) Cancel(ctx context.Context, jobID string) error {
	if err := t.do(ctx, http.MethodDelete, t.baseURL+"/api/jobs/"+jobID, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}
