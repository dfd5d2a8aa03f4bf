// Package ask implements the request/reply correlation engine: posting a
// question to Slack, registering a pending wait keyed by the conversation
// thread, matching an inbound reply to the right waiter, and reclaiming the
// registration on success, timeout or error.
package ask

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrWaitPending is returned by Register when a wait is already outstanding
// for the same conversation key. Concurrent questions within one session
// share the session root as their key and are rejected rather than allowed
// to corrupt each other's delivery.
var ErrWaitPending = errors.New("a question is already awaiting a reply in this conversation")

// PendingWait is one outstanding question awaiting a human reply.
//
// It is fulfilled at most once: the payload write and the signal fire are
// committed together under the wait's lock, so a waiter that observes Done()
// closed always sees the payload.
type PendingWait struct {
	// Key is the conversation identifier (the thread root timestamp).
	Key string

	mu        sync.Mutex
	payload   string
	fulfilled bool
	done      chan struct{}
}

// Done returns a channel that is closed when the wait is fulfilled.
func (w *PendingWait) Done() <-chan struct{} {
	return w.done
}

// Payload returns the reply text and whether the wait has been fulfilled.
func (w *PendingWait) Payload() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.payload, w.fulfilled
}

// fulfill sets the payload and fires the signal. Returns false if the wait
// was already fulfilled.
func (w *PendingWait) fulfill(payload string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fulfilled {
		return false
	}
	w.payload = payload
	w.fulfilled = true
	close(w.done)
	return true
}

// Store maps conversation keys to pending waits. A key is present exactly
// while a wait is outstanding; the asking call removes its entry on every
// return path, so a late Fulfill is a logged no-op.
//
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	waits  map[string]*PendingWait
	logger *slog.Logger
}

// NewStore creates an empty correlation store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		waits:  make(map[string]*PendingWait),
		logger: logger,
	}
}

// Register creates and inserts a fresh wait for key.
// Returns ErrWaitPending if a wait for key is already outstanding.
func (s *Store) Register(key string) (*PendingWait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.waits[key]; exists {
		return nil, ErrWaitPending
	}

	w := &PendingWait{
		Key:  key,
		done: make(chan struct{}),
	}
	s.waits[key] = w
	return w, nil
}

// Lookup returns the wait for key, if one is outstanding.
func (s *Store) Lookup(key string) (*PendingWait, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waits[key]
	return w, ok
}

// Fulfill delivers payload to the wait for key and fires its signal.
// Returns true if this call delivered the payload; false if no wait is
// outstanding (a late or foreign reply) or the wait was already fulfilled.
func (s *Store) Fulfill(key, payload string) bool {
	s.mu.Lock()
	w, ok := s.waits[key]
	s.mu.Unlock()

	if !ok {
		if s.logger != nil {
			s.logger.Debug("No pending wait for reply, dropping", "key", key)
		}
		return false
	}
	if !w.fulfill(payload) {
		if s.logger != nil {
			s.logger.Debug("Wait already fulfilled, dropping duplicate reply", "key", key)
		}
		return false
	}
	return true
}

// Remove deletes the wait for key. Idempotent; safe to call for absent keys.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waits, key)
}

// Len returns the number of outstanding waits.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}
