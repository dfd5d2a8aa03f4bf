package ask

import (
	"context"
	"testing"
	"time"

	"slackask/internal/slack"
)

func runListener(t *testing.T, l *Listener) chan<- slack.MessageEvent {
	t.Helper()
	events := make(chan slack.MessageEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx, events)
	return events
}

func TestListenerFulfillsThreadReply(t *testing.T) {
	store := NewStore(nil)
	w, _ := store.Register("1.000")

	poster := &fakeSlack{}
	l := NewListener(store, poster, "C123", "UBOT", "Got it, one moment...", nil)
	events := runListener(t, l)

	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "yes", TS: "2.000", ThreadTS: "1.000"}

	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("reply was not delivered")
	}
	if payload, _ := w.Payload(); payload != "yes" {
		t.Errorf("payload = %q", payload)
	}

	// The acknowledgement lands in the same thread, after fulfillment.
	waitFor(t, func() bool { return poster.postCount() == 1 })
	if p := poster.postedAt(0); p.threadTS != "1.000" || p.text != "Got it, one moment..." {
		t.Errorf("ack post = %+v", p)
	}
}

func TestListenerSkipsNonAnswers(t *testing.T) {
	store := NewStore(nil)
	w, _ := store.Register("1.000")

	poster := &fakeSlack{}
	l := NewListener(store, poster, "C123", "UBOT", "", nil)
	events := runListener(t, l)

	// Top-level message, bot reply, own reply, blank reply, thread root
	// echo, reply in another channel.
	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "not threaded", TS: "2.000"}
	events <- slack.MessageEvent{Channel: "C123", BotID: "B001", Text: "bot reply", TS: "3.000", ThreadTS: "1.000"}
	events <- slack.MessageEvent{Channel: "C123", UserID: "UBOT", Text: "own reply", TS: "4.000", ThreadTS: "1.000"}
	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "   ", TS: "5.000", ThreadTS: "1.000"}
	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "root echo", TS: "1.000", ThreadTS: "1.000"}
	events <- slack.MessageEvent{Channel: "C999", UserID: "UHUMAN", Text: "other channel", TS: "5.500", ThreadTS: "1.000"}
	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "real answer", TS: "6.000", ThreadTS: "1.000"}

	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("reply was not delivered")
	}
	if payload, _ := w.Payload(); payload != "real answer" {
		t.Errorf("payload = %q, want only the human threaded reply", payload)
	}
}

func TestListenerIgnoresUnknownThread(t *testing.T) {
	store := NewStore(nil)
	poster := &fakeSlack{}
	l := NewListener(store, poster, "C123", "UBOT", "ack", nil)
	events := runListener(t, l)

	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "stray", TS: "2.000", ThreadTS: "9.999"}

	// No wait, so no acknowledgement either.
	time.Sleep(50 * time.Millisecond)
	if poster.postCount() != 0 {
		t.Errorf("posted %d acks for a stray reply", poster.postCount())
	}
}

func TestListenerAckFailureDoesNotAffectDelivery(t *testing.T) {
	store := NewStore(nil)
	w, _ := store.Register("1.000")

	poster := &fakeSlack{postErr: context.DeadlineExceeded}
	l := NewListener(store, poster, "C123", "UBOT", "ack", nil)
	events := runListener(t, l)

	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "yes", TS: "2.000", ThreadTS: "1.000"}

	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("reply was not delivered despite ack failure")
	}
}

func TestListenerSetAckText(t *testing.T) {
	store := NewStore(nil)
	poster := &fakeSlack{}
	l := NewListener(store, poster, "C123", "UBOT", "old", nil)
	l.SetAckText("new")

	w, _ := store.Register("1.000")
	events := runListener(t, l)
	events <- slack.MessageEvent{Channel: "C123", UserID: "UHUMAN", Text: "yes", TS: "2.000", ThreadTS: "1.000"}

	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("reply was not delivered")
	}
	waitFor(t, func() bool { return poster.postCount() == 1 })
	if p := poster.postedAt(0); p.text != "new" {
		t.Errorf("ack text = %q, want the updated text", p.text)
	}
}
