package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Ask.Mode != ModePush {
		t.Errorf("Mode = %q, want %q", cfg.Ask.Mode, ModePush)
	}
	if cfg.Ask.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Ask.Timeout, DefaultTimeout)
	}
	if cfg.Ask.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.Ask.PollInterval, DefaultPollInterval)
	}
	if !cfg.Ask.AckReply {
		t.Error("AckReply should default to true")
	}
}

func TestParseFull(t *testing.T) {
	data := `
slack:
  bot_token: xoxb-test
  app_token: xapp-test
  channel_id: C12345
ask:
  mode: poll
  timeout: 90s
  poll_interval: 15s
  ack_reply: false
logging:
  level: debug
  components: [slack, ask]
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Slack.BotToken != "xoxb-test" {
		t.Errorf("BotToken = %q", cfg.Slack.BotToken)
	}
	if cfg.Ask.Mode != ModePoll {
		t.Errorf("Mode = %q, want poll", cfg.Ask.Mode)
	}
	if cfg.Ask.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Ask.Timeout)
	}
	if cfg.Ask.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %v, want 15s", cfg.Ask.PollInterval)
	}
	if cfg.Ask.AckReply {
		t.Error("AckReply should be false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Logging.Components) != 2 {
		t.Errorf("Components = %v, want 2 entries", cfg.Logging.Components)
	}
}

func TestParseInvalidMode(t *testing.T) {
	if _, err := Parse([]byte("ask:\n  mode: streams\n")); err == nil {
		t.Fatal("Parse should reject an unknown mode")
	}
}

func TestParseInvalidDurations(t *testing.T) {
	cases := []string{
		"ask:\n  timeout: soon\n",
		"ask:\n  timeout: -5s\n",
		"ask:\n  poll_interval: never\n",
		"ask:\n  poll_interval: 0s\n",
	}
	for _, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("Parse(%q) should fail", data)
		}
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ask.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want default", cfg.Ask.Timeout)
	}
}

func TestResolveSecretsEnvWins(t *testing.T) {
	t.Setenv(EnvBotToken, "xoxb-env")
	t.Setenv(EnvAppToken, "xapp-env")
	t.Setenv(EnvChannelID, "C-env")

	cfg := Default()
	cfg.Slack.BotToken = "xoxb-file"
	cfg.ResolveSecrets()

	if cfg.Slack.BotToken != "xoxb-env" {
		t.Errorf("BotToken = %q, want env value", cfg.Slack.BotToken)
	}
	if cfg.Slack.AppToken != "xapp-env" {
		t.Errorf("AppToken = %q, want env value", cfg.Slack.AppToken)
	}
	if cfg.Slack.ChannelID != "C-env" {
		t.Errorf("ChannelID = %q, want env value", cfg.Slack.ChannelID)
	}
}

func TestMissingValues(t *testing.T) {
	for _, env := range []string{EnvBotToken, EnvAppToken, EnvChannelID} {
		t.Setenv(env, "")
	}

	cfg := Default()
	missing := cfg.MissingValues()
	if len(missing) != 3 {
		t.Fatalf("MissingValues = %v, want 3 entries", missing)
	}

	// Poll mode does not need the app-level token.
	cfg.Ask.Mode = ModePoll
	missing = cfg.MissingValues()
	for _, name := range missing {
		if name == EnvAppToken {
			t.Error("poll mode should not require the app token")
		}
	}
	if len(missing) != 2 {
		t.Errorf("MissingValues = %v, want 2 entries in poll mode", missing)
	}

	// Missing credentials do not fail validation; the tool call reports
	// them as error text instead.
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed with missing credentials: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed on defaults: %v", err)
	}

	cfg.Ask.Mode = AcquireMode("carrier-pigeon")
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "mode") {
		t.Errorf("Validate = %v, want an unknown mode error", err)
	}

	cfg = Default()
	cfg.Ask.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject a zero timeout")
	}

	cfg = Default()
	cfg.Ask.PollInterval = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject a negative poll interval")
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("ask:\n  timeout: 1m\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounceDelay(20 * time.Millisecond)
	w.Start()
	defer w.Close()

	if err := os.WriteFile(path, []byte("ask:\n  timeout: 2m\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Ask.Timeout != 2*time.Minute {
			t.Errorf("Timeout = %v, want 2m", cfg.Ask.Timeout)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherIgnoresInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounceDelay(20 * time.Millisecond)
	w.Start()
	defer w.Close()

	if err := os.WriteFile(path, []byte("ask:\n  timeout: bogus\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("unexpected reload with invalid file: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
		// No reload delivered for an unparseable file.
	}
}
