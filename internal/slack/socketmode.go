package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultConnectionsOpenURL is the endpoint that hands out Socket Mode
// WebSocket URLs in exchange for an app-level token.
const DefaultConnectionsOpenURL = DefaultBaseURL + "/apps.connections.open"

// eventBuffer is the capacity of the outbound event channel. The read loop
// never blocks on a slow consumer; overflow events are dropped with a log
// line and the affected ask call ends in a timeout.
const eventBuffer = 64

// reconnectDelay is the pause before re-opening a dropped connection.
const reconnectDelay = 2 * time.Second

// MessageEvent is an inbound Slack message delivered over Socket Mode.
type MessageEvent struct {
	Channel  string
	UserID   string
	BotID    string
	Text     string
	TS       string
	ThreadTS string
}

// SocketMode maintains a Socket Mode connection to Slack and delivers every
// inbound message event on Events(). It acknowledges each envelope and
// transparently reconnects when Slack asks it to (Slack refreshes Socket
// Mode connections periodically with a disconnect envelope).
type SocketMode struct {
	appToken string
	openURL  string
	client   *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger

	events chan MessageEvent

	readyOnce sync.Once
	ready     chan struct{}
}

// SocketModeOption configures a SocketMode client.
type SocketModeOption func(*SocketMode)

// WithConnectionsOpenURL overrides the apps.connections.open endpoint. Used in tests.
func WithConnectionsOpenURL(u string) SocketModeOption {
	return func(s *SocketMode) { s.openURL = u }
}

// WithSocketHTTPClient overrides the HTTP client used to open connections.
func WithSocketHTTPClient(hc *http.Client) SocketModeOption {
	return func(s *SocketMode) { s.client = hc }
}

// NewSocketMode creates a Socket Mode client for the given app-level token.
func NewSocketMode(appToken string, logger *slog.Logger, opts ...SocketModeOption) *SocketMode {
	s := &SocketMode{
		appToken: appToken,
		openURL:  DefaultConnectionsOpenURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		events:   make(chan MessageEvent, eventBuffer),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the channel on which inbound message events are delivered.
func (s *SocketMode) Events() <-chan MessageEvent {
	return s.events
}

// Ready returns a channel that is closed once the first connection has
// received Slack's hello envelope.
func (s *SocketMode) Ready() <-chan struct{} {
	return s.ready
}

// Run connects and serves until ctx is cancelled. It returns ctx.Err() on
// cancellation; any other error means the connection could not be
// (re-)established.
func (s *SocketMode) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wsURL, err := s.openConnection(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("open socket mode connection: %w", err)
		}

		if err := s.serve(ctx, wsURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.logger != nil {
				s.logger.Warn("Socket mode connection lost, reconnecting",
					"error", err,
					"delay", reconnectDelay,
				)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// openConnection calls apps.connections.open and returns the WebSocket URL.
func (s *SocketMode) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.openURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.appToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out struct {
		OK    bool   `json:"ok"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("apps.connections.open: slack error: %s", out.Error)
	}
	if out.URL == "" {
		return "", errors.New("apps.connections.open: empty url")
	}
	return out.URL, nil
}

// envelope is the Socket Mode framing around every server message.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason"`
}

// eventsAPIPayload is the payload of an events_api envelope.
type eventsAPIPayload struct {
	Event struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		Channel  string `json:"channel"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
}

// serve reads envelopes from one WebSocket connection until it fails,
// Slack sends a disconnect, or ctx is cancelled.
func (s *SocketMode) serve(ctx context.Context, wsURL string) error {
	conn, resp, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if s.logger != nil {
				s.logger.Debug("Ignoring unparseable socket mode frame", "error", err)
			}
			continue
		}

		// Acknowledge before processing so Slack never redelivers.
		if env.EnvelopeID != "" {
			ack, _ := json.Marshal(map[string]string{"envelope_id": env.EnvelopeID})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return fmt.Errorf("ack: %w", err)
			}
		}

		switch env.Type {
		case "hello":
			s.readyOnce.Do(func() { close(s.ready) })
			if s.logger != nil {
				s.logger.Info("Socket mode connected")
			}

		case "disconnect":
			if s.logger != nil {
				s.logger.Info("Socket mode disconnect requested", "reason", env.Reason)
			}
			return nil

		case "events_api":
			s.dispatch(env.Payload)
		}
	}
}

// dispatch converts an events_api payload into a MessageEvent and delivers
// it without blocking.
func (s *SocketMode) dispatch(payload json.RawMessage) {
	var p eventsAPIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		if s.logger != nil {
			s.logger.Debug("Ignoring unparseable events_api payload", "error", err)
		}
		return
	}
	if p.Event.Type != "message" {
		return
	}
	// Edits, deletions and other subtypes are not human answers.
	if p.Event.Subtype != "" {
		return
	}

	evt := MessageEvent{
		Channel:  p.Event.Channel,
		UserID:   p.Event.User,
		BotID:    p.Event.BotID,
		Text:     p.Event.Text,
		TS:       p.Event.TS,
		ThreadTS: p.Event.ThreadTS,
	}

	select {
	case s.events <- evt:
	default:
		if s.logger != nil {
			s.logger.Warn("Dropping socket mode event, consumer too slow",
				"channel", evt.Channel, "ts", evt.TS)
		}
	}
}
