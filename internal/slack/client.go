// Package slack contains the thin Slack I/O collaborators: a Web API client
// for posting and fetching thread messages, and a Socket Mode listener for
// receiving message events.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Slack Web API endpoint prefix.
const DefaultBaseURL = "https://slack.com/api"

// Message is one message in a channel or thread.
type Message struct {
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	UserID   string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
}

// Identity describes the authenticated bot, from auth.test.
type Identity struct {
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
}

// Client is a minimal Slack Web API client covering the three calls slackask
// needs: chat.postMessage, conversations.replies and auth.test.
//
// A shared rate limiter spaces API calls; conversations.replies is the
// tightest-limited method slackask uses, and overlapping poll loops would
// otherwise multiply the request rate.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Web API endpoint prefix. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRateLimit overrides the API call rate limit.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// NewClient creates a Web API client authenticated with the given bot token.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		// One request per second with a small burst keeps us well inside
		// every Web API tier slackask touches.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostMessage posts text to a channel and returns the new message timestamp.
// If threadTS is non-empty, the message is posted as a threaded reply.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	var out struct {
		TS string `json:"ts"`
	}
	if err := c.postJSON(ctx, "chat.postMessage", payload, &out); err != nil {
		return "", err
	}

	if c.logger != nil {
		c.logger.Debug("Posted message", "channel", channel, "ts", out.TS, "thread_ts", threadTS)
	}
	return out.TS, nil
}

// ThreadReplies fetches the messages of the thread rooted at rootTS, oldest
// first, restricted to timestamps at or after oldest (the thread root when
// oldest is empty). The root message itself is included in the result.
func (c *Client) ThreadReplies(ctx context.Context, channel, rootTS, oldest string) ([]Message, error) {
	params := url.Values{}
	params.Set("channel", channel)
	params.Set("ts", rootTS)
	if oldest == "" {
		oldest = rootTS
	}
	params.Set("oldest", oldest)
	params.Set("limit", "200")

	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.getForm(ctx, "conversations.replies", params, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// AuthTest returns the identity of the authenticated bot.
func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	var id Identity
	if err := c.postJSON(ctx, "auth.test", map[string]any{}, &id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// postJSON performs a JSON POST to the given API method and decodes the
// response into out after checking the ok/error envelope.
func (c *Client) postJSON(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.do(req, method, out)
}

// getForm performs a GET with query parameters to the given API method.
func (c *Client) getForm(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}

	return c.do(req, method, out)
}

// do sends the request through the rate limiter and decodes the envelope.
func (c *Client) do(req *http.Request, method string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", method, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parse %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s: slack error: %s", method, envelope.Error)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
	}
	return nil
}
