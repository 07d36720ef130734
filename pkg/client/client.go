package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentcompany/agentcompany/pkg/index"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Client talks to one control plane server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given base URL, e.g.
// "http://127.0.0.1:7717".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client,
// for custom timeouts or transports.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// Call runs one RPC method. When result is non-nil the response result
// is decoded into it. Method-level failures come back as *rpc.UserError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	req := rpc.Request{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  *rpc.UserError  `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", httpResp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if !envelope.OK {
		return fmt.Errorf("server returned status %d without an error body", httpResp.StatusCode)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// ListProjects lists workspace projects.
func (c *Client) ListProjects(ctx context.Context) ([]*types.Project, error) {
	var projects []*types.Project
	if err := c.Call(ctx, "workspace.projects.list", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// SubmitJob submits a job and returns its record.
func (c *Client) SubmitJob(ctx context.Context, projectID string, spec types.JobSpec) (*types.Job, error) {
	var job types.Job
	err := c.Call(ctx, "job.submit", map[string]interface{}{
		"project_id": projectID,
		"spec":       spec,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// PollJob fetches the current state of a job.
func (c *Client) PollJob(ctx context.Context, projectID, jobID string) (*types.Job, error) {
	var job types.Job
	err := c.Call(ctx, "job.poll", map[string]string{
		"project_id": projectID,
		"job_id":     jobID,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRuns lists indexed runs, optionally filtered by project.
func (c *Client) ListRuns(ctx context.Context, projectID string) ([]index.RunRow, error) {
	var runs []index.RunRow
	err := c.Call(ctx, "run.list", map[string]interface{}{
		"project_id": projectID,
	}, &runs)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// ResolveReview records a review decision on an artifact.
func (c *Client) ResolveReview(ctx context.Context, projectID, artifactID, decision, actorID string) (*types.Review, error) {
	var review types.Review
	err := c.Call(ctx, "inbox.resolve", map[string]string{
		"project_id":  projectID,
		"artifact_id": artifactID,
		"decision":    decision,
		"actor_id":    actorID,
	}, &review)
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// AddComment appends a comment to a subject's thread.
func (c *Client) AddComment(ctx context.Context, subject, authorID, body string) (*types.Message, error) {
	var msg types.Message
	err := c.Call(ctx, "comment.add", map[string]string{
		"subject":   subject,
		"author_id": authorID,
		"body":      body,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Capabilities lists the server's registered method names.
func (c *Client) Capabilities(ctx context.Context) ([]string, error) {
	var caps struct {
		Methods []string `json:"methods"`
	}
	if err := c.Call(ctx, "system.capabilities", nil, &caps); err != nil {
		return nil, err
	}
	return caps.Methods, nil
}
