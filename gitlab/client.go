// Package gitlab is a REST client for the instance endpoints the bridge
// consumes: workflow creation, direct-access credential issuance and the
// api/v4 passthrough serving runHTTPRequest actions.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duoflow/bridge/bridgeerr"
)

// DefaultInstanceURL is used when no instance URL is configured.
const DefaultInstanceURL = "https://gitlab.com"

type (
	// Option configures the Client.
	Option func(*Client)

	// Client talks to one GitLab instance over REST.
	Client struct {
		instanceURL string
		http        *http.Client
		headers     http.Header
	}

	// CreateWorkflowRequest is the body of POST ai/duo_workflows/workflows.
	CreateWorkflowRequest struct {
		Goal                    string `json:"goal"`
		WorkflowDefinition      string `json:"workflow_definition"`
		Environment             string `json:"environment"`
		AllowAgentToRequestUser bool   `json:"allow_agent_to_request_user"`
		ProjectID               string `json:"project_id,omitempty"`
	}

	// createWorkflowResponse tolerates both id shapes the instance emits.
	createWorkflowResponse struct {
		ID      json.RawMessage `json:"id"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}

	// DirectAccessRequest is the body of POST ai/duo_workflows/direct_access.
	DirectAccessRequest struct {
		WorkflowDefinition string `json:"workflow_definition"`
		RootNamespaceID    string `json:"root_namespace_id,omitempty"`
	}

	// DirectAccessResponse carries the short-lived credentials issued for
	// one workflow session.
	DirectAccessResponse struct {
		GitLabRails     RailsAccess   `json:"gitlab_rails"`
		WorkflowService ServiceAccess `json:"duo_workflow_service"`
	}

	// RailsAccess is the rails-side credential block.
	RailsAccess struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
		// TokenExpiresAt is an ISO-8601 timestamp.
		TokenExpiresAt string `json:"token_expires_at"`
	}

	// ServiceAccess is the workflow-service credential block.
	ServiceAccess struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
		// TokenExpiresAt is unix seconds; zero means not provided.
		TokenExpiresAt int64             `json:"token_expires_at"`
		Headers        map[string]string `json:"headers"`
	}

	// PassthroughResponse is the outcome of an api/v4 passthrough fetch.
	// Non-2xx statuses are still responses; the caller forwards them as-is.
	PassthroughResponse struct {
		StatusCode int
		Headers    map[string]string
		Body       string
	}
)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer
// token.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// New constructs a Client for the given instance URL (for example,
// "https://gitlab.example.com").
func New(instanceURL string, opts ...Option) *Client {
	if instanceURL == "" {
		instanceURL = DefaultInstanceURL
	}
	cl := &Client{
		instanceURL: strings.TrimSuffix(instanceURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl
}

// InstanceURL returns the normalized instance base URL.
func (c *Client) InstanceURL() string { return c.instanceURL }

// CreateWorkflow registers a new workflow and returns its ID. The instance
// reports the ID as either a number or a string; both normalize to string.
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (string, error) {
	var out createWorkflowResponse
	status, err := c.postJSON(ctx, "ai/duo_workflows/workflows", req, &out)
	if err != nil {
		return "", bridgeerr.Wrap(bridgeerr.KindWorkflowCreateFailed, "create workflow", err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return "", bridgeerr.Errorf(bridgeerr.KindWorkflowCreateFailed, "create workflow: status %d: %s", status, out.failureMessage())
	}
	id := workflowID(out.ID)
	if id == "" {
		return "", bridgeerr.Errorf(bridgeerr.KindWorkflowCreateFailed, "create workflow: response carries no id: %s", out.failureMessage())
	}
	return id, nil
}

// DirectAccess requests short-lived workflow-service credentials.
func (c *Client) DirectAccess(ctx context.Context, req DirectAccessRequest) (*DirectAccessResponse, error) {
	var out DirectAccessResponse
	status, err := c.postJSON(ctx, "ai/duo_workflows/direct_access", req, &out)
	if err != nil {
		return nil, fmt.Errorf("direct access: %w", err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("direct access: status %d", status)
	}
	return &out, nil
}

// Passthrough performs an api/v4 request on behalf of the workflow service.
// Every completed fetch is a success from the caller's point of view; only
// transport failures return an error.
func (c *Client) Passthrough(ctx context.Context, method, path, body string) (*PassthroughResponse, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	url := c.instanceURL + "/api/v4/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("passthrough %s %s: %w", method, path, err)
	}
	if body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("passthrough %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("passthrough %s %s: read body: %w", method, path, err)
	}
	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	return &PassthroughResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(data),
	}, nil
}

// postJSON posts a JSON body and decodes the JSON response, returning the
// HTTP status. On non-2xx statuses the decode is best-effort so error
// bodies can surface their message.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	url := c.instanceURL + "/" + strings.TrimPrefix(path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	ok := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && ok {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// workflowID renders the raw id field, accepting numbers and strings.
func workflowID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (r createWorkflowResponse) failureMessage() string {
	switch {
	case r.Message != "":
		return r.Message
	case r.Error != "":
		return r.Error
	default:
		return "unknown error"
	}
}
