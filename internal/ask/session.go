package ask

import "sync"

// Session tracks conversation continuity for one process: the thread root
// under which every question after the first is posted.
//
// The first successful ask records its posted message timestamp as the root;
// later asks thread under it and wait on the root key, so the Slack side
// reads as one continuous conversation.
type Session struct {
	mu   sync.Mutex
	root string
}

// NewSession creates a tracker with no recorded root.
func NewSession() *Session {
	return &Session{}
}

// Current returns the recorded thread root, if any.
func (s *Session) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, s.root != ""
}

// Record stores the thread root for subsequent asks. Only the first call has
// effect; the session root never changes once set.
func (s *Session) Record(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == "" {
		s.root = root
	}
}

// Reset clears the recorded root. Used in tests.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = ""
}
