package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowgraph/graphengine/pkg/dataframe"
	"github.com/flowgraph/graphengine/pkg/graph"
)

// Client dispatches node transforms to a remote worker over HTTP,
// implementing graph.RemoteClient (§4.3.3). It submits, polls /status at
// PollInterval, and fetches the completed frame from /fetch.
type Client struct {
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

// NewClient builds a Client targeting a worker's base URL, e.g.
// "http://worker:8686". A zero PollInterval falls back to 250ms.
func NewClient(baseURL string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Client{
		BaseURL:      baseURL,
		HTTPClient:   &http.Client{Timeout: 0},
		PollInterval: pollInterval,
	}
}

var _ graph.RemoteClient = (*Client)(nil)

// Run implements graph.RemoteClient.
func (c *Client) Run(ctx context.Context, node *graph.Node, settings interface{}, inputs graph.NodeInputs, resetCache bool) (*dataframe.LazyFrame, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("worker client: marshal settings: %w", err)
	}

	wireInputs, err := toWireInputsFrames(inputs.Main, inputs.Left, inputs.Right)
	if err != nil {
		return nil, fmt.Errorf("worker client: materialize inputs: %w", err)
	}

	req := SubmitRequest{
		NodeID:     node.ID(),
		NodeType:   node.Type(),
		Settings:   settingsJSON,
		Inputs:     wireInputs,
		ResetCache: resetCache,
	}

	var submitResp SubmitResponse
	if err := c.postJSON(ctx, "/submit", req, &submitResp); err != nil {
		return nil, fmt.Errorf("worker client: submit: %w", err)
	}

	status, err := c.awaitCompletion(ctx, submitResp.TaskID)
	if err != nil {
		return nil, err
	}

	var fetchResp FetchResponse
	if err := c.getJSON(ctx, "/fetch/"+status.CacheKey, &fetchResp); err != nil {
		return nil, fmt.Errorf("worker client: fetch: %w", err)
	}

	return fromWireFrame(fetchResp.Frame), nil
}

// Cancel asks the worker to stop a task, best-effort.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/cancel/"+taskID, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *Client) awaitCompletion(ctx context.Context, taskID string) (StatusResponse, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		var status StatusResponse
		if err := c.getJSON(ctx, "/status/"+taskID, &status); err != nil {
			return StatusResponse{}, fmt.Errorf("worker client: poll status: %w", err)
		}

		switch status.Status {
		case TaskStatusCompleted:
			return status, nil
		case TaskStatusFailed:
			if status.ErrorCode == errorCodeOOM {
				return StatusResponse{}, fmt.Errorf("worker client: remote run failed: error_code=-1: %s", status.Error)
			}
			return StatusResponse{}, fmt.Errorf("worker client: remote run failed: %s", status.Error)
		case TaskStatusCanceled:
			return StatusResponse{}, fmt.Errorf("worker client: remote task canceled")
		}

		select {
		case <-ctx.Done():
			return StatusResponse{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("worker: %s returned %d: %s", req.URL.Path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
