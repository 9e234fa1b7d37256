// Package agentsimsdk is a minimal client for the agent simulation HTTP API.
package agentsimsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one asim server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// AgentSummary is one catalog entry.
type AgentSummary struct {
	Name        string   `json:"name"`
	Instruction string   `json:"instruction,omitempty"`
	Tools       []string `json:"tools"`
}

// Session mirrors the API session model.
type Session struct {
	SessionID      string   `json:"session_id"`
	State          string   `json:"state"`
	Agent          string   `json:"agent,omitempty"`
	StartedAt      *int64   `json:"started_at,omitempty"`
	PendingCallIDs []string `json:"pending_call_ids"`
}

// FormField is a renderer-agnostic form descriptor node.
type FormField struct {
	Path        string      `json:"path"`
	Widget      string      `json:"widget"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Options     []string    `json:"options,omitempty"`
	Children    []FormField `json:"children,omitempty"`
}

// HistoryEntry is one session history record.
type HistoryEntry struct {
	Type         string         `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	Content      string         `json:"content,omitempty"`
	CallID       string         `json:"call_id,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Result       any            `json:"result,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   float64        `json:"duration_ms,omitempty"`
}

// History wraps a history snapshot.
type History struct {
	SessionID string         `json:"session_id"`
	Entries   []HistoryEntry `json:"entries"`
}

// Artifact is one exported evaluation case (partial).
type Artifact struct {
	ArtifactID    string  `json:"artifactId"`
	UserQuery     string  `json:"userQuery"`
	FinalResponse *string `json:"finalResponse"`
	CreatedAt     int64   `json:"createdAt"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Agents lists the available agents.
func (c *Client) Agents(ctx context.Context) ([]AgentSummary, error) {
	var resp []AgentSummary
	err := c.do(ctx, http.MethodGet, "v0/agents", nil, &resp)
	return resp, err
}

// NewSession starts a fresh session, discarding any current one.
func (c *Client) NewSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/session", nil, &resp)
	return resp, err
}

// SelectAgent picks the agent to roleplay.
func (c *Client) SelectAgent(ctx context.Context, name string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/session/agent", map[string]any{"name": name}, &resp)
	return resp, err
}

// SubmitQuery submits the opening user query.
func (c *Client) SubmitQuery(ctx context.Context, content string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/session/query", map[string]any{"content": content}, &resp)
	return resp, err
}

// ToolForm fetches the form descriptor for a tool's parameter schema.
func (c *Client) ToolForm(ctx context.Context, tool string) (FormField, error) {
	var resp FormField
	endpoint := fmt.Sprintf("v0/session/tools/%s/form", url.PathEscape(tool))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// InvokeTool starts a tool invocation and returns its call id.
func (c *Client) InvokeTool(ctx context.Context, tool string, arguments map[string]any) (string, error) {
	var resp struct {
		CallID string `json:"call_id"`
	}
	body := map[string]any{"tool": tool, "arguments": arguments}
	err := c.do(ctx, http.MethodPost, "v0/session/invocations", body, &resp)
	return resp.CallID, err
}

// WaitInvocation blocks until the invocation has its terminal entry.
func (c *Client) WaitInvocation(ctx context.Context, callID string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("v0/session/invocations/%s/wait", url.PathEscape(callID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CancelInvocation cancels a running invocation.
func (c *Client) CancelInvocation(ctx context.Context, callID string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("v0/session/invocations/%s/cancel", url.PathEscape(callID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitFinalResponse completes the session with the final response.
func (c *Client) SubmitFinalResponse(ctx context.Context, content string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/session/final", map[string]any{"content": content}, &resp)
	return resp, err
}

// History fetches the history snapshot of the current session.
func (c *Client) History(ctx context.Context) (History, error) {
	var resp History
	err := c.do(ctx, http.MethodGet, "v0/session/history", nil, &resp)
	return resp, err
}

// Export appends the completed session to the collection. An empty path uses
// the server's configured collection file.
func (c *Client) Export(ctx context.Context, path string) (Artifact, error) {
	var resp Artifact
	err := c.do(ctx, http.MethodPost, "v0/session/export", map[string]any{"path": path}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
