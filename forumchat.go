// Package forumchat is the Go client for the forum live chat room.
//
// It covers the chat REST endpoints and the realtime STOMP transport, with a
// ChatSession composing both into a reconciled, deduplicated room view.
//
// Example:
//
//	client := forumchat.NewClient(
//		forumchat.WithBaseURL("https://forum.example.com"),
//		forumchat.WithSessionCookie("..."),
//	)
//
//	// History
//	page, _ := client.Chat().GetMessages(ctx, 1, 50, "")
//
//	// Live room
//	room := client.ChatSession(forumchat.NewStaticIdentity("42"), nil)
//	room.OnMessage(func(m forumchat.Message) { fmt.Println(m.Username, m.Content) })
//	_ = room.Connect()
//	_ = room.Send(ctx, "hello")
package forumchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
	// SessionCookieName is the servlet session cookie that authenticates
	// both REST calls and the WebSocket handshake.
	SessionCookieName = "JSESSIONID"

	apiPrefix = "/api"
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL       string
	sessionCookie string
	httpClient    *http.Client
	log           *zap.Logger
	metrics       *Metrics
	chat          *ChatAPI
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithSessionCookie sets the JSESSIONID value sent with every request.
func WithSessionCookie(value string) ClientOption {
	return func(c *Client) { c.sessionCookie = value }
}

// WithClientLogger sets the logger handed to realtime components.
func WithClientLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithClientMetrics sets the instrumentation handed to realtime components.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a chat client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.chat = &ChatAPI{client: c}
	return c
}

// BaseURL returns the configured server origin.
func (c *Client) BaseURL() string { return c.baseURL }

// SetSessionCookie replaces the session cookie, e.g. after a login.
func (c *Client) SetSessionCookie(value string) {
	c.sessionCookie = value
}

// Chat returns the chat REST sub-client.
func (c *Client) Chat() *ChatAPI {
	return c.chat
}

// Realtime creates a ConnectionManager for the chat WebSocket. Call Connect
// to establish the session. The client's logger and metrics apply unless
// overridden by opts.
func (c *Client) Realtime(config *RealtimeConfig, opts ...Option) *ConnectionManager {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = c.baseURL
	}
	dialer := &StompDialer{
		Header: c.sessionHeader(),
		SockJS: true,
		Logger: c.log.Named("stomp"),
	}
	return NewConnectionManager(&cfg, dialer, c.componentOptions(opts)...)
}

// ChatSession composes a realtime connection and the history endpoint into
// a room view for identity.
func (c *Client) ChatSession(identity Identity, config *RealtimeConfig, opts ...Option) *ChatSession {
	all := c.componentOptions(opts)
	return NewChatSession(c.Realtime(config, all...), c.chat, identity, all...)
}

func (c *Client) componentOptions(opts []Option) []Option {
	base := []Option{WithLogger(c.log), WithMetrics(c.metrics)}
	return append(base, opts...)
}

func (c *Client) sessionHeader() http.Header {
	h := http.Header{}
	if c.sessionCookie != "" {
		h.Set("Cookie", (&http.Cookie{Name: SessionCookieName, Value: c.sessionCookie}).String())
	}
	return h
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
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
	if c.sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: c.sessionCookie})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 && len(bytes.TrimSpace(data)) == 0 {
		return nil, &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// do performs the request and unwraps the {code, message, data} envelope.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[APIResult](data)
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ============================================================================
// Chat API
// ============================================================================

// ChatAPI wraps the chat REST endpoints.
type ChatAPI struct{ client *Client }

// GetMessages fetches a history page. before, when set, is passed through as
// the server's paging cursor.
func (a *ChatAPI) GetMessages(ctx context.Context, page, pageSize int, before string) (*HistoryPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultHistoryPageSize
	}
	query := map[string]string{
		"page":     strconv.Itoa(page),
		"pageSize": strconv.Itoa(pageSize),
	}
	if before != "" {
		query["before"] = before
	}
	result, err := a.client.do(ctx, "GET", "/chat/messages", nil, query)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	var hp HistoryPage
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return nil, fmt.Errorf("get messages: %w", ErrNoHistory)
	}
	if err := result.Decode(&hp); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	// An absent list is not an empty room.
	if hp.List == nil {
		return nil, fmt.Errorf("get messages: %w", ErrNoHistory)
	}
	return &hp, nil
}

// GetOnlineUsers returns the server's current online list.
func (a *ChatAPI) GetOnlineUsers(ctx context.Context) ([]OnlineUser, error) {
	result, err := a.client.do(ctx, "GET", "/chat/online-users", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get online users: %w", err)
	}
	var users []OnlineUser
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return users, nil
	}
	if err := result.Decode(&users); err != nil {
		return nil, fmt.Errorf("get online users: %w", err)
	}
	return users, nil
}
