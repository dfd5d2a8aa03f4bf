// Package appdir provides platform-native directory management for slackask.
// It handles locating and creating the slackask data directory, which stores
// the settings file and log files.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv is the environment variable to override the slackask directory.
	DirEnv = "SLACKASK_DIR"

	// SettingsFileName is the name of the settings file.
	SettingsFileName = "settings.yaml"

	// LogsDirName is the name of the logs subdirectory.
	LogsDirName = "logs"
)

var (
	// cachedDir stores the resolved slackask directory to avoid repeated lookups.
	cachedDir string
	// mu protects cachedDir.
	mu sync.RWMutex
)

// Dir returns the slackask data directory path.
// The directory is determined in the following order:
//  1. SLACKASK_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/slackask
//     - Linux: $XDG_DATA_HOME/slackask or ~/.local/share/slackask
//     - Windows: %APPDATA%\slackask
//
// This function only returns the path; it does not create the directory.
// Use EnsureDir() to create the directory if needed.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

// resolveDir calculates the slackask directory path.
func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "slackask"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "slackask"), nil

	default:
		// Linux and others: follow XDG
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "slackask"), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, ".local", "share", "slackask"), nil
	}
}

// EnsureDir creates the slackask data directory (and logs subdirectory) if needed.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, LogsDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// SettingsPath returns the path to the settings file.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// LogsDir returns the path to the logs directory.
func LogsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// ResetCache clears the cached directory so the next Dir() call re-resolves it.
// Used by tests that change SLACKASK_DIR.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
