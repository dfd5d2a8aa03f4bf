// Package config handles configuration loading and management for slackask.
//
// Settings come from a YAML file (~/.../slackask/settings.yaml by default),
// with the Slack credentials resolvable from the environment and, on macOS,
// the system keychain. Secrets are never written back to the settings file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"slackask/internal/secrets"
)

// Environment variable names for the Slack credentials, matching the names
// the Slack documentation uses for bot and app-level tokens.
const (
	EnvBotToken  = "SLACK_BOT_TOKEN"
	EnvAppToken  = "SLACK_APP_TOKEN"
	EnvChannelID = "SLACK_CHANNEL_ID"
)

// AcquireMode selects how inbound thread replies are acquired.
type AcquireMode string

const (
	// ModePush receives replies through a Socket Mode event connection.
	ModePush AcquireMode = "push"

	// ModePoll fetches thread replies at a fixed interval. Trades latency
	// for resilience against event-delivery instability.
	ModePoll AcquireMode = "poll"
)

// Default tunables, matching the Slack conversations.replies rate limit
// (poll interval) and a human-scale answer window (timeout).
const (
	DefaultTimeout      = 5 * time.Minute
	DefaultPollInterval = 60 * time.Second
	DefaultAckText      = "Got it, one moment..."
)

// SlackConfig holds the Slack credentials and target channel.
type SlackConfig struct {
	// BotToken is the bot user OAuth token (xoxb-...).
	BotToken string
	// AppToken is the app-level token (xapp-...), required for push mode.
	AppToken string
	// ChannelID is the channel the questions are posted to.
	ChannelID string
}

// AskConfig holds the tunables for the ask/wait cycle.
type AskConfig struct {
	// Mode selects push or poll acquisition.
	Mode AcquireMode
	// Timeout is how long one ask call waits for a human reply.
	Timeout time.Duration
	// PollInterval is the delay between thread fetches in poll mode.
	PollInterval time.Duration
	// AckReply enables a best-effort "received" reply in push mode.
	AckReply bool
	// AckText is the text of the acknowledgement reply.
	AckText string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string
	File       string
	JSON       bool
	Components []string
}

// Config represents the complete slackask configuration.
type Config struct {
	Slack   SlackConfig
	Ask     AskConfig
	Logging LoggingConfig
}

// rawConfig is used for YAML unmarshaling. Durations are strings so the
// settings file can say "5m" or "90s".
type rawConfig struct {
	Slack struct {
		BotToken  string `yaml:"bot_token"`
		AppToken  string `yaml:"app_token"`
		ChannelID string `yaml:"channel_id"`
	} `yaml:"slack"`
	Ask struct {
		Mode         string `yaml:"mode"`
		Timeout      string `yaml:"timeout"`
		PollInterval string `yaml:"poll_interval"`
		AckReply     *bool  `yaml:"ack_reply"`
		AckText      string `yaml:"ack_text"`
	} `yaml:"ask"`
	Logging struct {
		Level      string   `yaml:"level"`
		File       string   `yaml:"file"`
		JSON       bool     `yaml:"json"`
		Components []string `yaml:"components"`
	} `yaml:"logging"`
}

// Default returns a Config with all defaults applied and no credentials.
func Default() *Config {
	return &Config{
		Ask: AskConfig{
			Mode:         ModePush,
			Timeout:      DefaultTimeout,
			PollInterval: DefaultPollInterval,
			AckReply:     true,
			AckText:      DefaultAckText,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and parses the configuration file from the given path.
// A missing file is not an error: defaults are returned so the credentials
// can still come from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data into a Config struct.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()

	cfg.Slack.BotToken = raw.Slack.BotToken
	cfg.Slack.AppToken = raw.Slack.AppToken
	cfg.Slack.ChannelID = raw.Slack.ChannelID

	if raw.Ask.Mode != "" {
		mode := AcquireMode(strings.ToLower(raw.Ask.Mode))
		if mode != ModePush && mode != ModePoll {
			return nil, fmt.Errorf("invalid ask mode %q (want %q or %q)", raw.Ask.Mode, ModePush, ModePoll)
		}
		cfg.Ask.Mode = mode
	}
	if raw.Ask.Timeout != "" {
		d, err := time.ParseDuration(raw.Ask.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid ask timeout %q: %w", raw.Ask.Timeout, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("ask timeout must be positive, got %q", raw.Ask.Timeout)
		}
		cfg.Ask.Timeout = d
	}
	if raw.Ask.PollInterval != "" {
		d, err := time.ParseDuration(raw.Ask.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll interval %q: %w", raw.Ask.PollInterval, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("poll interval must be positive, got %q", raw.Ask.PollInterval)
		}
		cfg.Ask.PollInterval = d
	}
	if raw.Ask.AckReply != nil {
		cfg.Ask.AckReply = *raw.Ask.AckReply
	}
	if raw.Ask.AckText != "" {
		cfg.Ask.AckText = raw.Ask.AckText
	}

	if raw.Logging.Level != "" {
		cfg.Logging.Level = raw.Logging.Level
	}
	cfg.Logging.File = raw.Logging.File
	cfg.Logging.JSON = raw.Logging.JSON
	cfg.Logging.Components = raw.Logging.Components

	return cfg, nil
}

// ResolveSecrets fills in the Slack credentials from the environment and,
// when still missing, the OS keychain. Environment variables win over the
// settings file, which wins over the keychain.
func (c *Config) ResolveSecrets() {
	if v := os.Getenv(EnvBotToken); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv(EnvAppToken); v != "" {
		c.Slack.AppToken = v
	}
	if v := os.Getenv(EnvChannelID); v != "" {
		c.Slack.ChannelID = v
	}

	if c.Slack.BotToken == "" {
		if tok, err := secrets.GetBotToken(); err == nil {
			c.Slack.BotToken = tok
		}
	}
	if c.Slack.AppToken == "" {
		if tok, err := secrets.GetAppToken(); err == nil {
			c.Slack.AppToken = tok
		}
	}
}

// MissingValues returns the names of required Slack values that are absent
// for the configured acquire mode. The app-level token is only needed for
// the Socket Mode connection (push mode).
func (c *Config) MissingValues() []string {
	var missing []string
	if c.Slack.BotToken == "" {
		missing = append(missing, EnvBotToken)
	}
	if c.Ask.Mode == ModePush && c.Slack.AppToken == "" {
		missing = append(missing, EnvAppToken)
	}
	if c.Slack.ChannelID == "" {
		missing = append(missing, EnvChannelID)
	}
	return missing
}

// Validate checks the structural settings. Missing credentials are not an
// error here: the process still starts, and the ask_user tool reports them
// as error text instead of crashing.
func (c *Config) Validate() error {
	switch c.Ask.Mode {
	case ModePush, ModePoll:
	default:
		return fmt.Errorf("unknown ask mode %q (want %q or %q)", c.Ask.Mode, ModePush, ModePoll)
	}
	if c.Ask.Timeout <= 0 {
		return fmt.Errorf("ask timeout must be positive, got %s", c.Ask.Timeout)
	}
	if c.Ask.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Ask.PollInterval)
	}
	return nil
}
