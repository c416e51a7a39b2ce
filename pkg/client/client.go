package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ErrRunNotFound is returned by Status for unknown run ids
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the state of a pipeline run as reported by the worker
type RunStatus struct {
	RunID      string     `json:"run_id"`
	State      string     `json:"state"`
	Name       string     `json:"name,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Client is an HTTP client for a pipeline worker
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new pipeline client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Process enqueues a pipeline run for the image at bucket/key
func (c *Client) Process(ctx context.Context, bucket, key string) (*pipeline.ProcessResponse, error) {
	body, err := json.Marshal(map[string]string{"bucket": bucket, "key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var processResp pipeline.ProcessResponse
	if err := c.do(httpReq, http.StatusAccepted, &processResp); err != nil {
		return nil, err
	}
	return &processResp, nil
}

// Status returns the state of a pipeline run
func (c *Client) Status(ctx context.Context, runID string) (*RunStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var status RunStatus
	if err := c.do(httpReq, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(req *http.Request, want int, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRunNotFound
	}
	if resp.StatusCode != want {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
