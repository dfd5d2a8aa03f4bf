package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"slackask/internal/config"
	"slackask/internal/logging"
	"slackask/internal/mcpserver"
	"slackask/internal/service"
)

var (
	serveHTTP bool
	servePort int
	noWatch   bool
)

func init() {
	rootCmd.Flags().BoolVar(&serveHTTP, "http", false, "Serve MCP over Streamable HTTP on 127.0.0.1 instead of stdio")
	rootCmd.Flags().IntVar(&servePort, "port", -1, "Port for the HTTP transport (-1 for the default, 0 for a random port)")
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable settings file watching (timeout and poll interval hot-reload)")
}

// runServe wires the service and the MCP server together and blocks until
// the transport ends or a signal arrives.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	svc, err := service.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	mode := mcpserver.TransportModeSTDIO
	if serveHTTP {
		mode = mcpserver.TransportModeHTTP
	}
	srv, err := mcpserver.NewServer(mcpserver.Config{Mode: mode, Port: servePort}, svc.Asker())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}

	var watcher *config.Watcher
	if !noWatch && cfgPath != "" {
		watcher, err = config.NewWatcher(cfgPath, func(reloaded *config.Config) {
			svc.ApplyConfig(reloaded)
		}, logging.ConfigLogger())
		if err != nil {
			logging.ConfigLogger().Warn("Settings watching disabled", "error", err)
		} else {
			watcher.Start()
		}
	}

	sm := service.NewShutdownManager()
	sm.AddCleanup(func(string) {
		if watcher != nil {
			watcher.Close()
		}
	})
	sm.AddCleanup(func(string) { srv.Stop() })
	sm.AddCleanup(func(string) { svc.Stop() })
	sm.AddCleanup(func(string) { cancel() })
	sm.Start()

	// In stdio mode the session ends when the agent closes the pipe; in
	// HTTP mode only a signal drives shutdown.
	if mode == mcpserver.TransportModeSTDIO {
		done := make(chan struct{})
		go func() {
			srv.Wait()
			close(done)
		}()
		select {
		case <-done:
			sm.Shutdown("transport-closed")
		case <-sm.Done():
		}
		return nil
	}

	<-sm.Done()
	return nil
}
