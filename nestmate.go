// Package nestmate provides the Go client for the Nestmate messaging API and
// the conversation sync engine that keeps a local view of conversations,
// messages and unread counts consistent with the live event channel.
//
// Example:
//
//	client := nestmate.NewClient(token, nestmate.WithBaseURL("https://api.nestmate.app/api"))
//	store := nestmate.NewStore(userID)
//	session := nestmate.NewSession(client.Messages(), store)
//
//	rt := client.Realtime(&nestmate.RealtimeConfig{UserID: userID})
//	session.Bind(rt)
//	rt.Connect(ctx)
//
//	session.ListConversations(ctx, 1, 20)
//	session.Send(ctx, conversationID, nestmate.SendInput{Text: "hello"})
package nestmate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.nestmate.app/api",
	Staging:    "https://staging-api.nestmate.app/api",
}

const (
	DefaultBaseURL = "https://api.nestmate.app/api"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST entry point. Its token and endpoints are fixed by
// NewClient; realtime clients it builds copy them at creation.
type Client struct {
	token      string
	baseURL    string
	wsURL      string
	httpClient *http.Client
	logger     *slog.Logger
	messages   *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithRealtimeURL overrides the websocket endpoint. By default it is derived
// from the base URL's origin with a /ws path.
func WithRealtimeURL(url string) ClientOption {
	return func(c *Client) { c.wsURL = url }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Nestmate client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = discardLogger()
	}

	c.messages = &MessagesClient{client: c}
	return c
}

// Messages returns the messaging API sub-client.
func (c *Client) Messages() *MessagesClient {
	return c.messages
}

// RealtimeURL returns the websocket endpoint for this client.
func (c *Client) RealtimeURL() string {
	if c.wsURL != "" {
		return c.wsURL
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

// Realtime creates a live-channel client for this account. Call Connect to
// establish the connection. Endpoint and token are filled from the client when
// the config leaves them empty.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.URL == "" {
		cfg.URL = c.RealtimeURL()
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	return NewRealtimeClient(&cfg)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) ([]byte, error) {
	op := method + " " + path
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "op", op, "error", err)
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Debug("request done", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func parseAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	var wrapped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(data, &wrapped) == nil {
		var nested APIError
		var plain string
		switch {
		case len(wrapped.Error) > 0 && json.Unmarshal(wrapped.Error, &nested) == nil:
			apiErr.Code, apiErr.Message = nested.Code, nested.Message
		case len(wrapped.Error) > 0 && json.Unmarshal(wrapped.Error, &plain) == nil:
			apiErr.Message = plain
		default:
			apiErr.Message = wrapped.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// decodeJSON parses a response body. A body that does not decode is reported
// as a *NetworkError for op, the same as a transport failure.
func decodeJSON[T any](op string, data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return &result, nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ============================================================================
// Messages API
// ============================================================================

// MessagesClient covers the conversation and message endpoints. It satisfies
// Backend.
type MessagesClient struct{ client *Client }

// GetOrCreateDirect returns the direct conversation with otherUserID.
func (m *MessagesClient) GetOrCreateDirect(ctx context.Context, otherUserID string) (*Conversation, error) {
	data, err := m.client.doRequest(ctx, http.MethodPost, "/messages/dm/get-or-create", directRequest{OtherUserID: otherUserID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation]("POST /messages/dm/get-or-create", data)
}

// GetOrCreateListing returns the conversation about listingID with its seller.
func (m *MessagesClient) GetOrCreateListing(ctx context.Context, listingID, sellerID string) (*Conversation, error) {
	data, err := m.client.doRequest(ctx, http.MethodPost, "/messages/listing/get-or-create", listingRequest{ListingID: listingID, SellerID: sellerID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation]("POST /messages/listing/get-or-create", data)
}

func (m *MessagesClient) ListConversations(ctx context.Context, page, limit int) ([]Conversation, error) {
	data, err := m.client.doRequest(ctx, http.MethodGet, "/messages/conversations", nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]Conversation]("GET /messages/conversations", data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// ListMessages returns one page of a conversation's history, newest first.
func (m *MessagesClient) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]Message, error) {
	path := "/messages/conversations/" + url.PathEscape(conversationID) + "/messages"
	data, err := m.client.doRequest(ctx, http.MethodGet, path, nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]Message]("GET "+path, data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (m *MessagesClient) SendMessage(ctx context.Context, conversationID string, in SendInput) (*SendResult, error) {
	path := "/messages/conversations/" + url.PathEscape(conversationID) + "/messages"
	data, err := m.client.doRequest(ctx, http.MethodPost, path, in, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SendResult]("POST "+path, data)
}

func (m *MessagesClient) MarkRead(ctx context.Context, conversationID string) (*Conversation, error) {
	path := "/messages/conversations/" + url.PathEscape(conversationID) + "/read"
	data, err := m.client.doRequest(ctx, http.MethodPost, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation]("POST "+path, data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
