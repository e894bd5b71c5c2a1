// Package rest is the HTTP fallback surface of the sync core. It speaks
// to the existing message endpoints, which return the same Message entity
// the push channel carries, so reconciliation needs no second mapping
// layer.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/transport"
)

// DefaultTimeout bounds each fallback request.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Client issues the fallback calls. The bearer token is fetched from the
// TokenProvider per request, unlike the push channel which pins it at
// dial time.
type Client struct {
	baseURL    string
	tokens     transport.TokenProvider
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a fallback client for the given API base URL.
func NewClient(baseURL string, tokens transport.TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createMessageRequest struct {
	Content         string `json:"content"`
	ParentMessageID *int64 `json:"parentMessageId,omitempty"`
	ClientTempID    string `json:"clientTempId,omitempty"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// CreateMessage posts a new message to a group and returns the
// server-assigned entity.
func (c *Client) CreateMessage(ctx context.Context, groupID int64, content string, parentMessageID *int64, clientTempID string) (domain.Message, error) {
	var msg domain.Message
	body := createMessageRequest{
		Content:         content,
		ParentMessageID: parentMessageID,
		ClientTempID:    clientTempID,
	}
	path := fmt.Sprintf("/api/groups/%d/messages", groupID)
	err := c.do(ctx, http.MethodPost, path, body, &msg)
	return msg, err
}

// EditMessage replaces a message's content and returns the updated entity.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) (domain.Message, error) {
	var msg domain.Message
	path := fmt.Sprintf("/api/messages/%d", messageID)
	err := c.do(ctx, http.MethodPut, path, editMessageRequest{Content: content}, &msg)
	return msg, err
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("/api/messages/%d", messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListRecent returns the most recent messages of a group, newest last.
func (c *Client) ListRecent(ctx context.Context, groupID int64, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	path := fmt.Sprintf("/api/groups/%d/messages?limit=%d", groupID, limit)
	err := c.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
