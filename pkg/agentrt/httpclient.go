package agentrt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
)

// HTTPClient drives ServerClient over the GraphQL-shaped HTTP API (pkg/api),
// the production counterpart of the in-memory fakes the pkg/agentrt tests
// use. It holds a single mutable bearer token behind a mutex — the
// documented exception to the "no shared mutable state" rule (spec §5).
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPClient targets the server's /graphql endpoint at baseURL (e.g.
// "https://localhost:8000").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs the bearer token used for subsequent requests.
// Authenticate calls it once its login succeeds.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// AuthHeader returns the current Authorization header value, which call
// sets on every request it sends.
func (c *HTTPClient) AuthHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return ""
	}
	return "Bearer " + c.token
}

type wireRequest struct {
	OperationType string         `json:"operationType"`
	TopLevel      string         `json:"topLevel"`
	Field         string         `json:"field"`
	Args          map[string]any `json:"args"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type wireResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []wireError     `json:"errors"`
}

func (c *HTTPClient) call(ctx context.Context, opType, topLevel, field string, args map[string]any, out any) error {
	body, err := json.Marshal(wireRequest{OperationType: opType, TopLevel: topLevel, Field: field, Args: args})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := c.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s:%s request: %w", topLevel, field, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s:%s response: %w", topLevel, field, err)
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return fmt.Errorf("decode %s:%s response (HTTP %d): %w", topLevel, field, resp.StatusCode, err)
	}
	if len(wr.Errors) > 0 {
		return fmt.Errorf("%s:%s: %s", topLevel, field, wr.Errors[0].Message)
	}
	if out == nil || len(wr.Data) == 0 {
		return nil
	}
	return json.Unmarshal(wr.Data, out)
}

func (c *HTTPClient) Register(ctx context.Context, agentID string, ttl time.Duration) error {
	return c.call(ctx, "mutation", "agents", "register", map[string]any{
		"id": agentID, "ttl_seconds": ttl.Seconds(),
	}, nil)
}

func (c *HTTPClient) Heartbeat(ctx context.Context, agentID string, ttl time.Duration) error {
	return c.call(ctx, "mutation", "agents", "heartbeat", map[string]any{
		"id": agentID, "ttl_seconds": ttl.Seconds(),
	}, nil)
}

func (c *HTTPClient) Unregister(ctx context.Context, agentID string) error {
	return c.call(ctx, "mutation", "agents", "unregister", map[string]any{"id": agentID}, nil)
}

func (c *HTTPClient) Assign(ctx context.Context, pipelineID, agentID string) error {
	return c.call(ctx, "mutation", "pipelines", "assign", map[string]any{
		"id": pipelineID, "agent_id": agentID,
	}, nil)
}

func (c *HTTPClient) SetRunning(ctx context.Context, pipelineID, agentID string) error {
	return c.call(ctx, "mutation", "pipelines", "setRunning", map[string]any{
		"id": pipelineID, "agent_id": agentID,
	}, nil)
}

func (c *HTTPClient) Finalize(ctx context.Context, pipelineID, agentID string, status domain.PipelineStatus) error {
	return c.call(ctx, "mutation", "pipelines", "finalize", map[string]any{
		"id": pipelineID, "agent_id": agentID, "status": string(status),
	}, nil)
}

func (c *HTTPClient) UpdateStage(ctx context.Context, pipelineID, agentID, stageName, stageStatus string) error {
	return c.call(ctx, "mutation", "pipelines", "updateStage", map[string]any{
		"id": pipelineID, "agent_id": agentID, "stage_name": stageName, "stage_status": stageStatus,
	}, nil)
}

func (c *HTTPClient) OldestDefined(ctx context.Context) (*domain.Pipeline, error) {
	var p *domain.Pipeline
	if err := c.call(ctx, "query", "pipelines", "oldestDefined", nil, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *HTTPClient) OldestAssignedTo(ctx context.Context, agentID string) (*domain.Pipeline, error) {
	var p *domain.Pipeline
	if err := c.call(ctx, "query", "pipelines", "oldestAssignedTo", map[string]any{"agent_id": agentID}, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *HTTPClient) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	var j domain.Job
	if err := c.call(ctx, "query", "jobs", "get", map[string]any{"id": jobID}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *HTTPClient) Project(ctx context.Context, projectID string) (*domain.Project, error) {
	var p domain.Project
	if err := c.call(ctx, "query", "projects", "get", map[string]any{"id": projectID}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) Authenticate(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, "mutation", "users", "login", map[string]any{
		"username": username, "password": password,
	}, &out); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

var _ ServerClient = (*HTTPClient)(nil)
