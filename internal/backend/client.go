// Package backend provides the HTTP client for the Atelier backend REST API.
// This client is designed for internal use (no authentication): the backend
// listens on localhost and the desktop shell is its only consumer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/atelier-chat/atelier/internal/engine"
)

// Client provides HTTP methods for the Atelier REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiPrefix  string // API prefix (e.g., "/atelier")
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAPIPrefix sets the API prefix (e.g., "/atelier").
// Default is "/atelier".
func WithAPIPrefix(prefix string) Option {
	return func(client *Client) {
		client.apiPrefix = prefix
	}
}

// New creates a new Atelier backend client.
// baseURL should be the backend address (e.g., "http://localhost:7323").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		apiPrefix: "/atelier",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiURL builds a full API URL with the prefix.
func (c *Client) apiURL(path string) string {
	return c.baseURL + c.apiPrefix + path
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the backend's uniform response wrapper. A response with
// success=false carries a human-readable error and surfaces to callers as
// *engine.SemanticError, distinct from transport failures.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// do performs one API request and decodes the response envelope into out
// (which may be nil when no payload is expected).
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%s %s: marshal: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
		}
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}

	if !env.Success {
		return &engine.SemanticError{Reason: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// SendMessage submits a user message for generation.
func (c *Client) SendMessage(ctx context.Context, req engine.SendMessageRequest) error {
	path := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(req.ConversationID))
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// StopGeneration requests cancellation of the conversation's active run.
func (c *Client) StopGeneration(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/api/conversations/%s/stop", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ApproveTool approves a pending tool call.
func (c *Client) ApproveTool(ctx context.Context, conversationID, toolCallID string) error {
	path := fmt.Sprintf("/api/conversations/%s/tools/%s/approve",
		url.PathEscape(conversationID), url.PathEscape(toolCallID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RejectTool rejects a pending tool call.
func (c *Client) RejectTool(ctx context.Context, conversationID, toolCallID string) error {
	path := fmt.Sprintf("/api/conversations/%s/tools/%s/reject",
		url.PathEscape(conversationID), url.PathEscape(toolCallID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// answerRequest is the payload for AnswerQuestion.
type answerRequest struct {
	ToolCallID string `json:"tool_call_id"`
	Answer     string `json:"answer"`
}

// AnswerQuestion delivers the user's answer to a pending question.
func (c *Client) AnswerQuestion(ctx context.Context, conversationID, toolCallID, answer string) error {
	path := fmt.Sprintf("/api/conversations/%s/answer", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, answerRequest{ToolCallID: toolCallID, Answer: answer}, nil)
}

// GetConversation fetches a full conversation with all messages.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*engine.Conversation, error) {
	path := fmt.Sprintf("/api/conversations/%s", url.PathEscape(conversationID))
	var conv engine.Conversation
	if err := c.do(ctx, http.MethodGet, path, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the metadata list for a space.
func (c *Client) ListConversations(ctx context.Context, spaceID string) ([]engine.ConversationMeta, error) {
	path := fmt.Sprintf("/api/spaces/%s/conversations", url.PathEscape(spaceID))
	var metas []engine.ConversationMeta
	if err := c.do(ctx, http.MethodGet, path, nil, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// createConversationRequest is the payload for CreateConversation.
type createConversationRequest struct {
	SpaceID string `json:"space_id"`
	Title   string `json:"title,omitempty"`
}

// CreateConversation creates a new conversation in a space.
func (c *Client) CreateConversation(ctx context.Context, spaceID, title string) (*engine.Conversation, error) {
	var conv engine.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations",
		createConversationRequest{SpaceID: spaceID, Title: title}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// updateConversationRequest is the payload for UpdateConversation.
type updateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateConversation renames a conversation.
func (c *Client) UpdateConversation(ctx context.Context, conversationID, title string) error {
	path := fmt.Sprintf("/api/conversations/%s", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPatch, path, updateConversationRequest{Title: title}, nil)
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/api/conversations/%s", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetSessionState fetches the backend's live run snapshot for a conversation.
func (c *Client) GetSessionState(ctx context.Context, conversationID string) (*engine.RemoteSessionState, error) {
	path := fmt.Sprintf("/api/conversations/%s/session", url.PathEscape(conversationID))
	var state engine.RemoteSessionState
	if err := c.do(ctx, http.MethodGet, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListChangeSets returns the change sets recorded for a conversation.
func (c *Client) ListChangeSets(ctx context.Context, conversationID string) ([]engine.ChangeSet, error) {
	path := fmt.Sprintf("/api/conversations/%s/changesets", url.PathEscape(conversationID))
	var sets []engine.ChangeSet
	if err := c.do(ctx, http.MethodGet, path, nil, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// changeSetRequest is the payload for change-set accept and rollback. An
// empty Path targets the whole change set.
type changeSetRequest struct {
	Path string `json:"path,omitempty"`
}

// AcceptChangeSet accepts a change set, or a single file when path is set.
// The backend returns the updated change set.
func (c *Client) AcceptChangeSet(ctx context.Context, conversationID, changeSetID, path string) (*engine.ChangeSet, error) {
	apiPath := fmt.Sprintf("/api/conversations/%s/changesets/%s/accept",
		url.PathEscape(conversationID), url.PathEscape(changeSetID))
	var cs engine.ChangeSet
	if err := c.do(ctx, http.MethodPost, apiPath, changeSetRequest{Path: path}, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// RollbackChangeSet reverts a change set, or a single file when path is set.
// The backend returns the updated change set.
func (c *Client) RollbackChangeSet(ctx context.Context, conversationID, changeSetID, path string) (*engine.ChangeSet, error) {
	apiPath := fmt.Sprintf("/api/conversations/%s/changesets/%s/rollback",
		url.PathEscape(conversationID), url.PathEscape(changeSetID))
	var cs engine.ChangeSet
	if err := c.do(ctx, http.MethodPost, apiPath, changeSetRequest{Path: path}, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}
