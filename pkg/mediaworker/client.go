// Package mediaworker is the boundary to the external transcode workers.
//
// Jobs go out as JSON over HTTP; results come back asynchronously to the
// callback endpoint in cmd, at any time and in any order, keyed by task
// id. The worker owns the encoding; this package only ships descriptions
// of work.
package mediaworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clipvault/clipvault/pkg/transcode"
)

// Job describes one unit of work for a worker.
type Job struct {
	// TaskID keys the eventual result back to the transcode task.
	TaskID transcode.TaskID `json:"task_id"`

	// SourcePath is where the worker reads the input file.
	SourcePath string `json:"source_path"`

	// Kind selects the worker pipeline.
	Kind string `json:"kind"`

	// Options are pipeline-specific parameters, passed through verbatim.
	Options map[string]string `json:"options,omitempty"`
}

// Result is a worker's terminal report for one task.
type Result struct {
	TaskID  transcode.TaskID `json:"task_id"`
	Success bool             `json:"success"`

	// Message carries the failure reason when Success is false.
	Message string `json:"message,omitempty"`

	// OutputPath is where the worker wrote the produced file. Only set on
	// success.
	OutputPath string `json:"output_path,omitempty"`
}

// Dispatcher submits jobs to workers. The production implementation is
// Client; tests substitute fakes.
type Dispatcher interface {
	Submit(ctx context.Context, job Job) error
}

// Client submits jobs to a worker endpoint over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client for the given submit endpoint. A zero
// timeout defaults to 30 seconds.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit implements Dispatcher. An accepted job only means the worker
// queued it; completion arrives later through the callback endpoint.
func (c *Client) Submit(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %d: %w", job.TaskID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit job %d: %w", job.TaskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker rejected job %d: %s: %s", job.TaskID, resp.Status, body)
	}
	return nil
}
