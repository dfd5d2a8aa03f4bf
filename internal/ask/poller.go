package ask

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"slackask/internal/slack"
)

// ThreadFetcher fetches the messages of a Slack thread. Satisfied by
// *slack.Client.
type ThreadFetcher interface {
	ThreadReplies(ctx context.Context, channel, rootTS, oldest string) ([]slack.Message, error)
}

// Poller acquires replies by periodically fetching a thread and looking for
// the first human-authored message newer than its watermark. It is the
// poll-mode alternative to the Socket Mode listener, for workspaces where an
// app-level token is not available.
type Poller struct {
	fetcher   ThreadFetcher
	channel   string
	interval  time.Duration
	botUserID string
	logger    *slog.Logger
}

// NewPoller creates a poller for the given channel. botUserID is the bot's
// own user ID from auth.test; its messages are never treated as answers.
func NewPoller(fetcher ThreadFetcher, channel string, interval time.Duration, botUserID string, logger *slog.Logger) *Poller {
	return &Poller{
		fetcher:   fetcher,
		channel:   channel,
		interval:  interval,
		botUserID: botUserID,
		logger:    logger,
	}
}

// Run polls the thread rooted at key until it fulfills the wait or ctx is
// cancelled. The asking call cancels ctx on every return path, so a poller
// never outlives its wait.
//
// since is the just-posted question's timestamp: only messages newer than it
// qualify, so replies to earlier questions in the same thread are never
// redelivered. The watermark advances to the newest message seen on each
// fetch, so a message is considered at most once. Slack timestamps within
// one channel order correctly as strings.
func (p *Poller) Run(ctx context.Context, store *Store, key, since string) {
	watermark := since
	if watermark == "" {
		watermark = key
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, err := p.fetcher.ThreadReplies(ctx, p.channel, key, watermark)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if p.logger != nil {
				p.logger.Warn("Thread poll failed, will retry", "key", key, "error", err)
			}
			continue
		}

		next := watermark
		for _, m := range msgs {
			if m.TS > next {
				next = m.TS
			}
			if m.TS <= watermark {
				continue
			}
			if !p.isAnswer(m) {
				continue
			}
			if store.Fulfill(key, m.Text) {
				if p.logger != nil {
					p.logger.Info("Reply acquired by polling", "key", key, "ts", m.TS)
				}
			}
			return
		}
		watermark = next
	}
}

// isAnswer reports whether m is a human answer: not authored by a bot (our
// own question and acknowledgement included) and not blank.
func (p *Poller) isAnswer(m slack.Message) bool {
	if m.BotID != "" {
		return false
	}
	if p.botUserID != "" && m.UserID == p.botUserID {
		return false
	}
	return strings.TrimSpace(m.Text) != ""
}
