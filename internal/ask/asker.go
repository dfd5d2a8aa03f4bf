package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"slackask/internal/config"
	"slackask/internal/logging"
)

// SlackClient is the Slack surface the orchestrator needs. Satisfied by
// *slack.Client.
type SlackClient interface {
	MessagePoster
	ThreadFetcher
}

// Asker orchestrates one ask_user call end to end: post the question,
// register the wait, arrange acquisition (the shared Socket Mode listener in
// push mode, a per-call poller in poll mode), block for the reply, and
// convert every outcome into text for the tool boundary.
//
// Nothing escapes Ask as an error: the consumer is a tool-calling agent with
// no structured error channel, so failures come back as "Error: ..." text it
// can branch on.
type Asker struct {
	client  SlackClient
	store   *Store
	session *Session
	channel string
	mode    config.AcquireMode
	missing []string
	logger  *slog.Logger

	// Bot identity for poll-mode filtering, set once before serving.
	botUserID string

	mu           sync.Mutex
	timeout      time.Duration
	pollInterval time.Duration
}

// NewAsker creates an orchestrator using cfg's channel, mode and tunables.
func NewAsker(client SlackClient, store *Store, session *Session, cfg *config.Config, logger *slog.Logger) *Asker {
	return &Asker{
		client:       client,
		store:        store,
		session:      session,
		channel:      cfg.Slack.ChannelID,
		mode:         cfg.Ask.Mode,
		missing:      cfg.MissingValues(),
		logger:       logger,
		timeout:      cfg.Ask.Timeout,
		pollInterval: cfg.Ask.PollInterval,
	}
}

// SetBotUserID records the bot's own user ID so poll-mode acquisition can
// skip its messages.
func (a *Asker) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// ApplyTunables updates the reply timeout and poll interval. Called by the
// settings watcher; in-flight asks keep the values they started with.
func (a *Asker) ApplyTunables(timeout, pollInterval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if timeout > 0 {
		a.timeout = timeout
	}
	if pollInterval > 0 {
		a.pollInterval = pollInterval
	}
}

func (a *Asker) tunables() (timeout, pollInterval time.Duration, botUserID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeout, a.pollInterval, a.botUserID
}

// Ask posts question to the configured channel and blocks until a human
// reply arrives, the timeout elapses, or ctx is cancelled. The returned
// string is always usable by the calling agent; error outcomes are prefixed
// with "Error:".
func (a *Asker) Ask(ctx context.Context, question string) string {
	requestID := uuid.NewString()[:8]
	timeout, pollInterval, botUserID := a.tunables()

	if len(a.missing) > 0 {
		return fmt.Sprintf("Error: missing required Slack configuration: %s.", strings.Join(a.missing, ", "))
	}

	root, continuing := a.session.Current()
	threadTS := ""
	if continuing {
		threadTS = root
	}

	logger := logging.WithRequest(a.logger, requestID, root)
	logger.Info("Posting question", "continuing", continuing, "timeout", timeout)

	postedTS, err := a.client.PostMessage(ctx, a.channel, question, threadTS)
	if err != nil {
		logger.Error("Failed to post question", "error", err)
		return fmt.Sprintf("Error: failed to post the question to Slack: %v", err)
	}

	key := postedTS
	if continuing {
		key = root
	} else {
		a.session.Record(postedTS)
	}
	logger = logging.WithRequest(a.logger, requestID, key)

	wait, err := a.store.Register(key)
	if err != nil {
		if errors.Is(err, ErrWaitPending) {
			logger.Warn("Rejecting concurrent question on the same conversation")
			return "Error: a question is already awaiting a reply in this conversation. Wait for it to finish before asking again."
		}
		logger.Error("Failed to register wait", "error", err)
		return fmt.Sprintf("Error: failed to register the pending question: %v", err)
	}
	defer a.store.Remove(key)

	if a.mode == config.ModePoll {
		pollCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		poller := NewPoller(a.client, a.channel, pollInterval, botUserID, a.logger)
		go poller.Run(pollCtx, a.store, key, postedTS)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wait.Done():
		reply, _ := wait.Payload()
		logger.Info("Reply delivered", "length", len(reply))
		return fmt.Sprintf("The user replied: %q. Craft your response to this and ask again via Slack if you need anything further.", reply)

	case <-timer.C:
		logger.Warn("No reply before timeout", "timeout", timeout)
		return fmt.Sprintf("Error: no reply from the user within %s.", timeout)

	case <-ctx.Done():
		logger.Warn("Ask cancelled", "error", ctx.Err())
		return "Error: the question was cancelled before a reply arrived."
	}
}
