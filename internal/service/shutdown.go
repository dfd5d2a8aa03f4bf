package service

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"slackask/internal/logging"
)

// ShutdownFunc is a function that performs cleanup during shutdown.
// It receives a reason string describing why shutdown was triggered.
type ShutdownFunc func(reason string)

// ShutdownManager coordinates graceful shutdown across the process. It
// ensures cleanup functions run exactly once and handles SIGINT/SIGTERM.
//
// It is safe for concurrent use.
type ShutdownManager struct {
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager.
// It does not start signal handling until Start() is called.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{
		done: make(chan struct{}),
	}
}

// AddCleanup adds a cleanup function to be called during shutdown.
// Cleanup functions are called in the order they were added.
func (sm *ShutdownManager) AddCleanup(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cleanups = append(sm.cleanups, fn)
}

// Start begins listening for shutdown signals (SIGINT, SIGTERM).
// When a signal is received, Shutdown() is called automatically.
// This should be called after all cleanup functions have been registered.
func (sm *ShutdownManager) Start() {
	logger := logging.Shutdown()
	logger.Debug("Shutdown manager started, listening for signals")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Signal received, initiating shutdown", "signal", sig.String())
		sm.Shutdown("signal:" + sig.String())
	}()
}

// Shutdown triggers graceful shutdown with the given reason.
// It is safe to call multiple times; only the first call will execute
// cleanup. This method blocks until all cleanup is complete.
func (sm *ShutdownManager) Shutdown(reason string) {
	sm.once.Do(func() {
		sm.doShutdown(reason)
	})
}

func (sm *ShutdownManager) doShutdown(reason string) {
	logger := logging.Shutdown()
	logger.Info("Starting shutdown sequence", "reason", reason)

	sm.mu.Lock()
	sm.reason = reason
	cleanups := make([]ShutdownFunc, len(sm.cleanups))
	copy(cleanups, sm.cleanups)
	sm.mu.Unlock()

	for i, fn := range cleanups {
		logger.Debug("Running cleanup function", "index", i, "total", len(cleanups))
		fn(reason)
	}

	logger.Info("Shutdown sequence complete", "reason", reason)
	close(sm.done)
}

// Done returns a channel that is closed when shutdown is complete.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// Reason returns the reason for shutdown, or empty string if not yet shut down.
func (sm *ShutdownManager) Reason() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.reason
}
