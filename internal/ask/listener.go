package ask

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"slackask/internal/slack"
)

// MessagePoster posts a message to a Slack channel. Satisfied by
// *slack.Client.
type MessagePoster interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
}

// ackTimeout bounds the best-effort acknowledgement post so a slow Slack API
// cannot stall the event loop.
const ackTimeout = 10 * time.Second

// Listener consumes Socket Mode message events and routes threaded human
// replies into the correlation store. It is the push-mode acquisition path,
// started once at service startup and stopped at shutdown.
type Listener struct {
	store   *Store
	poster  MessagePoster
	channel string
	logger  *slog.Logger

	mu        sync.Mutex
	botUserID string
	ackText   string
}

// NewListener creates a listener feeding the given store. ackText, when
// non-empty, is posted into the thread after a reply is accepted so the
// human knows the answer landed; pass "" to disable the acknowledgement.
func NewListener(store *Store, poster MessagePoster, channel, botUserID, ackText string, logger *slog.Logger) *Listener {
	return &Listener{
		store:     store,
		poster:    poster,
		channel:   channel,
		botUserID: botUserID,
		logger:    logger,
		ackText:   ackText,
	}
}

// SetAckText updates the acknowledgement text. Used by settings hot-reload.
func (l *Listener) SetAckText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ackText = text
}

// SetBotUserID records the bot's own user ID once the identity probe has
// run, tightening the bot-authored filter beyond bot_id checks.
func (l *Listener) SetBotUserID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.botUserID = id
}

func (l *Listener) currentAckText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ackText
}

func (l *Listener) currentBotUserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.botUserID
}

// Run consumes events until the channel is closed or ctx is cancelled.
func (l *Listener) Run(ctx context.Context, events <-chan slack.MessageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.handle(ctx, evt)
		}
	}
}

// handle matches one inbound event against the outstanding waits.
func (l *Listener) handle(ctx context.Context, evt slack.MessageEvent) {
	// Questions only live in the configured channel; a same-timestamp
	// thread elsewhere must not match a wait.
	if l.channel != "" && evt.Channel != l.channel {
		return
	}
	// Only threaded replies can answer a question; the thread root is the
	// correlation key.
	if evt.ThreadTS == "" || evt.TS == evt.ThreadTS {
		return
	}
	// Bot-authored messages are never human answers. This includes our own
	// acknowledgement reply, which would otherwise fulfill the next question
	// asked on the same session thread.
	if evt.BotID != "" {
		return
	}
	if id := l.currentBotUserID(); id != "" && evt.UserID == id {
		return
	}
	if strings.TrimSpace(evt.Text) == "" {
		return
	}

	if !l.store.Fulfill(evt.ThreadTS, evt.Text) {
		return
	}
	if l.logger != nil {
		l.logger.Info("Reply acquired from socket mode", "key", evt.ThreadTS, "ts", evt.TS)
	}

	if text := l.currentAckText(); text != "" {
		l.acknowledge(ctx, evt.ThreadTS, text)
	}
}

// acknowledge posts the "received" reply into the thread. Failures are
// logged and otherwise ignored; the answer has already been delivered.
func (l *Listener) acknowledge(ctx context.Context, threadTS, text string) {
	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	if _, err := l.poster.PostMessage(ackCtx, l.channel, text, threadTS); err != nil {
		if l.logger != nil {
			l.logger.Warn("Failed to post acknowledgement reply", "key", threadTS, "error", err)
		}
	}
}
