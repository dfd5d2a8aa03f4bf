package ask

import (
	"testing"
	"time"
)

func TestStoreSingleDelivery(t *testing.T) {
	s := NewStore(nil)
	w, err := s.Register("1.000")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !s.Fulfill("1.000", "yes") {
		t.Fatal("first Fulfill should deliver")
	}
	if s.Fulfill("1.000", "no") {
		t.Error("second Fulfill should be a no-op")
	}

	select {
	case <-w.Done():
	default:
		t.Fatal("Done should be closed after Fulfill")
	}

	payload, ok := w.Payload()
	if !ok || payload != "yes" {
		t.Errorf("Payload() = %q, %v; want yes, true", payload, ok)
	}
}

func TestStoreRegisterCollision(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Register("1.000"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := s.Register("1.000"); err != ErrWaitPending {
		t.Errorf("second Register = %v, want ErrWaitPending", err)
	}

	// A different key is unaffected.
	if _, err := s.Register("2.000"); err != nil {
		t.Errorf("Register on fresh key failed: %v", err)
	}
}

func TestStoreLateFulfillIsNoOp(t *testing.T) {
	s := NewStore(nil)
	if s.Fulfill("9.999", "too late") {
		t.Error("Fulfill without a registered wait should report false")
	}

	w, _ := s.Register("1.000")
	s.Remove("1.000")
	if s.Fulfill("1.000", "too late") {
		t.Error("Fulfill after Remove should report false")
	}
	select {
	case <-w.Done():
		t.Error("removed wait should not be fulfilled")
	default:
	}
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := NewStore(nil)
	s.Register("1.000")
	s.Remove("1.000")
	s.Remove("1.000")
	s.Remove("never-registered")
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStoreConcurrentFulfill(t *testing.T) {
	s := NewStore(nil)
	w, _ := s.Register("1.000")

	delivered := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			delivered <- s.Fulfill("1.000", "answer")
		}(i)
	}

	wins := 0
	for i := 0; i < 10; i++ {
		if <-delivered {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("%d goroutines delivered, want exactly 1", wins)
	}

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("wait was never fulfilled")
	}
}

func TestSessionRecordsFirstRootOnly(t *testing.T) {
	sess := NewSession()
	if _, ok := sess.Current(); ok {
		t.Fatal("fresh session should have no root")
	}

	sess.Record("1.000")
	sess.Record("2.000")
	root, ok := sess.Current()
	if !ok || root != "1.000" {
		t.Errorf("Current() = %q, %v; want 1.000, true", root, ok)
	}

	sess.Reset()
	if _, ok := sess.Current(); ok {
		t.Error("Reset should clear the root")
	}
}
