// Package cmd provides the CLI commands for slackask.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"slackask/internal/appdir"
	"slackask/internal/config"
	"slackask/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
	// cfgPath is the settings file actually in effect, for the watcher.
	cfgPath string
)

// rootCmd represents the base command when called without any subcommands.
// Running slackask with no subcommand serves the MCP server, which is how
// agents launch it.
var rootCmd = &cobra.Command{
	Use:   "slackask",
	Short: "slackask - ask a human questions via Slack from an MCP tool",
	Long: `slackask is an MCP server exposing a single ask_user tool.

The tool posts a question to a Slack channel, waits for a human to reply in
the thread, and returns the reply text to the calling agent. Follow-up
questions continue the same thread, so one process reads as one
conversation on the Slack side.

Credentials come from SLACK_BOT_TOKEN, SLACK_APP_TOKEN and
SLACK_CHANNEL_ID, the settings file, or the OS keychain.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Initialize logging
		// Priority: --log-level flag > --debug flag > default (info)
		effectiveLogLevel := "info"
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}
		var fileLog *logging.FileLogConfig
		if logFile != "" {
			fileLog = &logging.FileLogConfig{Path: logFile}
		}
		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			FileLog:    fileLog,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		// Ensure the slackask directory exists
		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create slackask directory: %w", err)
		}

		// Load configuration: --config takes priority over the settings
		// file in the slackask directory. A missing file yields defaults;
		// credentials can still come from the environment or keychain.
		path := configPath
		if path == "" {
			var err error
			path, err = appdir.SettingsPath()
			if err != nil {
				return fmt.Errorf("failed to resolve settings path: %w", err)
			}
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		cfgPath = path
		cfg.ResolveSecrets()

		// The settings file can change the log level or add a log file
		// when the flags did not.
		if logLevel == "" && !debug && (cfg.Logging.Level != "" || cfg.Logging.File != "") {
			fl := fileLog
			if fl == nil && cfg.Logging.File != "" {
				fl = &logging.FileLogConfig{Path: cfg.Logging.File}
			}
			level := effectiveLogLevel
			if cfg.Logging.Level != "" {
				level = cfg.Logging.Level
			}
			if err := logging.Initialize(logging.Config{
				Level:      level,
				FileLog:    fl,
				JSON:       cfg.Logging.JSON,
				Components: components,
			}); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
		}

		return cfg.Validate()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides the settings file in the slackask directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'slack,ask,mcp'). Empty means all components.")
}
