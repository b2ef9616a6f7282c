package client

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

	config "github.com/kode-sdk/kode-chat/config"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
)

const maxErrorBody = 4096

var _ domain.ConversationAPI = (*Client)(nil)

// Client talks to the conversation REST API
type Client struct {
	baseURL string
	http    *RetryableHTTPClient
}

// New creates a client for the API rooted at baseURL, e.g. http://host:3000/api
func New(baseURL string, timeout time.Duration, retry config.RetryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewRetryableHTTPClient(timeout, retry),
	}
}

// NewFromConfig creates a client from the backend configuration
func NewFromConfig(cfg *config.Config) *Client {
	return New(cfg.APIBaseURL(), time.Duration(cfg.Backend.Timeout)*time.Second, cfg.Backend.Retry)
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) conversationURL(id string, parts ...string) string {
	u := c.baseURL + "/conversations/" + url.PathEscape(id)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

type createConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

// CreateConversation asks the backend for a new conversation id
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	var out createConversationResponse
	if err := c.doJSON(ctx, "create conversation", http.MethodPost, c.baseURL+"/conversations", struct{}{}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ConversationID) == "" {
		return "", fmt.Errorf("create conversation: response did not include a conversationId")
	}
	return out.ConversationID, nil
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage sends a user message. The response body is ignored.
func (c *Client) PostMessage(ctx context.Context, conversationID, content string) error {
	return c.doJSON(ctx, "post message", http.MethodPost, c.conversationURL(conversationID, "messages"), postMessageRequest{Content: content}, nil)
}

type historyResponse struct {
	Messages []domain.ChatEntry `json:"messages"`
}

// FetchHistory returns the stored transcript of a conversation
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]domain.ChatEntry, error) {
	var out historyResponse
	if err := c.doJSON(ctx, "fetch history", http.MethodGet, c.conversationURL(conversationID, "history"), nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		return []domain.ChatEntry{}, nil
	}
	return out.Messages, nil
}

// Interrupt asks the backend to stop the running turn
func (c *Client) Interrupt(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, "interrupt", http.MethodPost, c.conversationURL(conversationID, "interrupt"), struct{}{}, nil)
}

// EventsURL returns the stream endpoint of a conversation
func (c *Client) EventsURL(conversationID string) string {
	return c.conversationURL(conversationID, "events")
}

type sessionsResponse struct {
	Sessions []domain.SessionSummary `json:"sessions"`
}

// ListSessions returns the sessions known to the backend, optionally
// filtered by user id
func (c *Client) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	endpoint := c.baseURL + "/sessions"
	if userID != "" {
		endpoint += "?" + url.Values{"userId": {userID}}.Encode()
	}

	var out sessionsResponse
	if err := c.doJSON(ctx, "list sessions", http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Debug("backend request failed", "op", op, "status_code", resp.StatusCode, "url", endpoint)
		return &domain.HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
