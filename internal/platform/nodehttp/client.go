// Package nodehttp talks to worker node agents over their HTTP API.
// It implements the executor the dispatcher hands work through and the
// prober the health monitor checks nodes with.
package nodehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/dispatch"
	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/health"
)

// maxErrorBody caps how much of a node's error response is carried
// into the error message.
const maxErrorBody = 512

// Config holds the node client settings.
type Config struct {
	// ExecuteTimeout bounds execute and abort requests. The node must
	// acknowledge within it; the work itself runs asynchronously.
	ExecuteTimeout time.Duration

	// CallbackBaseURL is this coordinator's externally reachable base
	// URL. Nodes deliver their reports to it.
	CallbackBaseURL string
}

// Client is an HTTP client for the node agent convention:
//
//	POST {addr}/v1/execute
//	POST {addr}/v1/abort
//	GET  {addr}/v1/heartbeat
type Client struct {
	httpClient     *http.Client
	executeTimeout time.Duration
	callbackBase   string
	logger         *slog.Logger
}

// executeRequest is the body of an execute call. CallbackURL tells the
// node where to deliver progress and completion reports.
type executeRequest struct {
	TaskID      uuid.UUID       `json:"task_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CallbackURL string          `json:"callback_url"`
}

// abortRequest is the body of an abort call.
type abortRequest struct {
	TaskID uuid.UUID `json:"task_id"`
}

// heartbeatResponse is what a node answers a heartbeat probe with.
type heartbeatResponse struct {
	Healthy      bool     `json:"healthy"`
	CurrentLoad  int      `json:"current_load"`
	Capabilities []string `json:"capabilities"`
}

// NewClient creates a node client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 10 * time.Second
	}

	return &Client{
		httpClient:     &http.Client{},
		executeTimeout: cfg.ExecuteTimeout,
		callbackBase:   strings.TrimSuffix(cfg.CallbackBaseURL, "/"),
		logger:         logger.With(slog.String("component", "node_client")),
	}
}

// Compile-time checks that Client serves both consumer interfaces.
var (
	_ dispatch.Executor = (*Client)(nil)
	_ health.Prober     = (*Client)(nil)
)

// Execute asks the node to start the task. A 2xx answer is the node's
// acknowledgment that execution has begun.
func (c *Client) Execute(ctx context.Context, node *domain.Node, task *domain.Task) error {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	body := executeRequest{
		TaskID:      task.ID,
		Kind:        task.Kind,
		Payload:     task.Payload,
		CallbackURL: fmt.Sprintf("%s/api/callbacks/tasks/%s", c.callbackBase, task.ID),
	}
	return c.post(ctx, nodeURL(node, "/v1/execute"), body)
}

// Abort asks the node to stop a task. Best effort; an error here means
// the request did not get through, not that the task kept running.
func (c *Client) Abort(ctx context.Context, node *domain.Node, taskID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	return c.post(ctx, nodeURL(node, "/v1/abort"), abortRequest{TaskID: taskID})
}

// Probe fetches the node's heartbeat. The context carries the probe
// timeout; any transport error counts as a missed probe upstream.
func (c *Client) Probe(ctx context.Context, node *domain.Node) (health.ProbeReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL(node, "/v1/heartbeat"), nil)
	if err != nil {
		return health.ProbeReport{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return health.ProbeReport{}, fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return health.ProbeReport{}, statusError(resp)
	}

	var heartbeat heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&heartbeat); err != nil {
		return health.ProbeReport{}, fmt.Errorf("failed to decode heartbeat: %w", err)
	}

	return health.ProbeReport{
		Healthy:      heartbeat.Healthy,
		CurrentLoad:  heartbeat.CurrentLoad,
		Capabilities: heartbeat.Capabilities,
	}, nil
}

// post sends a JSON body and treats any non-2xx answer as an error.
func (c *Client) post(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// statusError turns a non-2xx response into an error carrying a
// truncated slice of the body.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("node returned status %d: %s", resp.StatusCode, msg)
}

// nodeURL joins a node's advertised address with an API path.
func nodeURL(node *domain.Node, path string) string {
	return strings.TrimSuffix(node.Address, "/") + path
}
