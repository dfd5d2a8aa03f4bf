// Package service wires the application together: it builds the Slack
// collaborators, the correlation store and the orchestrator, supervises the
// background acquisition path, and applies settings reloads.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"slackask/internal/ask"
	"slackask/internal/config"
	"slackask/internal/logging"
	"slackask/internal/slack"
)

// readyTimeout bounds how long startup waits for the first Socket Mode
// hello before proceeding anyway. Questions asked before the connection is
// up simply wait for their reply as usual.
const readyTimeout = 10 * time.Second

// Service owns the process-wide ask state: the Slack client, the
// correlation store, the session tracker and the orchestrator. It is
// created at startup and torn down at shutdown; there is no ambient global
// state, so tests construct as many independent instances as they like.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *slack.Client
	store    *ask.Store
	session  *ask.Session
	asker    *ask.Asker
	listener *ask.Listener
	socket   *slack.SocketMode

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a service from cfg. Missing credentials are not an error here:
// the tool call reports them as error text instead of preventing startup.
func New(cfg *config.Config, opts ...slack.Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.Ask()
	client := slack.NewClient(cfg.Slack.BotToken, logging.Slack(), opts...)
	store := ask.NewStore(logger)
	session := ask.NewSession()
	asker := ask.NewAsker(client, store, session, cfg, logger)

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		store:   store,
		session: session,
		asker:   asker,
	}

	if cfg.Ask.Mode == config.ModePush {
		ackText := ""
		if cfg.Ask.AckReply {
			ackText = cfg.Ask.AckText
		}
		s.listener = ask.NewListener(store, client, cfg.Slack.ChannelID, "", ackText, logger)
		s.socket = slack.NewSocketMode(cfg.Slack.AppToken, logging.Slack())
	}

	return s, nil
}

// Asker returns the orchestrator behind the ask_user tool.
func (s *Service) Asker() *ask.Asker {
	return s.asker
}

// Start probes the bot identity and, in push mode, starts the Socket Mode
// connection and the reply listener. Probe and connection failures are
// logged, not fatal: a misconfigured process still serves tool calls, which
// report their errors as text.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.probeIdentity(runCtx)

	if s.socket == nil {
		s.logger.Info("Reply acquisition by polling", "interval", s.cfg.Ask.PollInterval)
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.socket.Run(runCtx); err != nil && runCtx.Err() == nil {
			// Push acquisition is down; pending asks will time out.
			s.logger.Error("Socket mode connection failed", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listener.Run(runCtx, s.socket.Events())
	}()

	select {
	case <-s.socket.Ready():
		s.logger.Info("Reply acquisition by socket mode events")
	case <-time.After(readyTimeout):
		s.logger.Warn("Socket mode not connected yet, continuing startup")
	case <-runCtx.Done():
		return runCtx.Err()
	}
	return nil
}

// probeIdentity calls auth.test and records the bot's user ID for reply
// filtering. Failure is logged; identity filtering then falls back to
// bot_id checks alone.
func (s *Service) probeIdentity(ctx context.Context) {
	if s.cfg.Slack.BotToken == "" {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	id, err := s.client.AuthTest(probeCtx)
	if err != nil {
		s.logger.Warn("Bot identity probe failed", "error", err)
		return
	}

	s.asker.SetBotUserID(id.UserID)
	if s.listener != nil {
		s.listener.SetBotUserID(id.UserID)
	}
	s.logger.Info("Authenticated to Slack", "user", id.User, "user_id", id.UserID, "team", id.Team)
}

// ApplyConfig applies a reloaded configuration. Only the hot tunables
// change; credentials, channel and mode keep their startup values.
func (s *Service) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.asker.ApplyTunables(cfg.Ask.Timeout, cfg.Ask.PollInterval)
	if s.listener != nil {
		ackText := ""
		if cfg.Ask.AckReply {
			ackText = cfg.Ask.AckText
		}
		s.listener.SetAckText(ackText)
	}
	s.logger.Info("Applied reloaded settings",
		"timeout", cfg.Ask.Timeout,
		"poll_interval", cfg.Ask.PollInterval,
	)
}

// Stop tears the background work down and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
