package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"slackask/internal/config"
	"slackask/internal/slack"
)

// fakeSlack is a scripted SlackClient. Posts are recorded; thread fetches
// return the configured history.
type fakeSlack struct {
	mu      sync.Mutex
	posts   []fakePost
	postErr error
	nextTS  int
	history []slack.Message
}

type fakePost struct {
	channel  string
	text     string
	threadTS string
}

func (f *fakeSlack) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.nextTS++
	f.posts = append(f.posts, fakePost{channel, text, threadTS})
	return fmt.Sprintf("%d.000", f.nextTS), nil
}

func (f *fakeSlack) ThreadReplies(ctx context.Context, channel, rootTS, oldest string) ([]slack.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeSlack) postedAt(i int) fakePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[i]
}

func (f *fakeSlack) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakeSlack) setNextTS(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTS = n
}

func (f *fakeSlack) appendHistory(msgs ...slack.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, msgs...)
}

func newTestAsker(client SlackClient, mode config.AcquireMode, timeout time.Duration) (*Asker, *Store, *Session) {
	cfg := config.Default()
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Slack.AppToken = "xapp-test"
	cfg.Slack.ChannelID = "C123"
	cfg.Ask.Mode = mode
	cfg.Ask.Timeout = timeout
	cfg.Ask.PollInterval = 10 * time.Millisecond

	store := NewStore(nil)
	session := NewSession()
	return NewAsker(client, store, session, cfg, nil), store, session
}

func TestAskReturnsFulfilledReply(t *testing.T) {
	fake := &fakeSlack{}
	asker, store, _ := newTestAsker(fake, config.ModePush, 5*time.Second)

	done := make(chan string, 1)
	go func() { done <- asker.Ask(context.Background(), "Proceed?") }()

	// Wait for the question to be posted and its wait registered.
	waitFor(t, func() bool { return store.Len() == 1 })
	if !store.Fulfill("1.000", "yes") {
		t.Fatal("Fulfill failed")
	}

	result := <-done
	if !strings.Contains(result, `"yes"`) {
		t.Errorf("result %q should embed the reply", result)
	}
	if strings.HasPrefix(result, "Error:") {
		t.Errorf("result %q should not be an error", result)
	}
	if store.Len() != 0 {
		t.Error("wait should be reclaimed after success")
	}
}

func TestAskTimesOut(t *testing.T) {
	fake := &fakeSlack{}
	asker, store, _ := newTestAsker(fake, config.ModePush, 50*time.Millisecond)

	result := asker.Ask(context.Background(), "Anyone there?")
	if !strings.HasPrefix(result, "Error:") || !strings.Contains(result, "no reply") {
		t.Errorf("result = %q, want a timeout error", result)
	}
	if store.Len() != 0 {
		t.Error("wait should be reclaimed after timeout")
	}
}

func TestAskMissingConfiguration(t *testing.T) {
	cfg := config.Default()
	cfg.Ask.Timeout = time.Second
	asker := NewAsker(&fakeSlack{}, NewStore(nil), NewSession(), cfg, nil)

	result := asker.Ask(context.Background(), "hi")
	if !strings.HasPrefix(result, "Error:") || !strings.Contains(result, "configuration") {
		t.Errorf("result = %q, want a configuration error", result)
	}
}

func TestAskPostFailure(t *testing.T) {
	fake := &fakeSlack{postErr: errors.New("channel_not_found")}
	asker, store, _ := newTestAsker(fake, config.ModePush, time.Second)

	result := asker.Ask(context.Background(), "hi")
	if !strings.HasPrefix(result, "Error:") || !strings.Contains(result, "channel_not_found") {
		t.Errorf("result = %q, want the post failure surfaced", result)
	}
	if store.Len() != 0 {
		t.Error("no wait should remain after a post failure")
	}
}

func TestAskSessionContinuity(t *testing.T) {
	fake := &fakeSlack{}
	asker, store, session := newTestAsker(fake, config.ModePush, 5*time.Second)

	first := make(chan string, 1)
	go func() { first <- asker.Ask(context.Background(), "First?") }()
	waitFor(t, func() bool { return store.Len() == 1 })
	store.Fulfill("1.000", "ok")
	<-first

	if root, ok := session.Current(); !ok || root != "1.000" {
		t.Fatalf("session root = %q, %v; want 1.000", root, ok)
	}

	second := make(chan string, 1)
	go func() { second <- asker.Ask(context.Background(), "Second?") }()
	waitFor(t, func() bool { return store.Len() == 1 })

	// The follow-up threads under the root and waits on the root key.
	if p := fake.postedAt(1); p.threadTS != "1.000" {
		t.Errorf("second question thread_ts = %q, want 1.000", p.threadTS)
	}
	if _, ok := store.Lookup("1.000"); !ok {
		t.Error("follow-up should wait on the session root key")
	}

	store.Fulfill("1.000", "sure")
	if result := <-second; !strings.Contains(result, `"sure"`) {
		t.Errorf("second result = %q", result)
	}
}

func TestAskRejectsConcurrentQuestionOnSameConversation(t *testing.T) {
	fake := &fakeSlack{}
	asker, store, _ := newTestAsker(fake, config.ModePush, 5*time.Second)

	first := make(chan string, 1)
	go func() { first <- asker.Ask(context.Background(), "First?") }()
	waitFor(t, func() bool { return store.Len() == 1 })
	store.Fulfill("1.000", "ok")
	<-first

	// With the session root established, two overlapping asks share the key.
	blocked := make(chan string, 1)
	go func() { blocked <- asker.Ask(context.Background(), "Second?") }()
	waitFor(t, func() bool { return fake.postCount() == 2 && store.Len() == 1 })

	result := asker.Ask(context.Background(), "Third?")
	if !strings.HasPrefix(result, "Error:") || !strings.Contains(result, "already awaiting") {
		t.Errorf("result = %q, want the pending-wait rejection", result)
	}

	store.Fulfill("1.000", "done")
	if r := <-blocked; !strings.Contains(r, `"done"`) {
		t.Errorf("blocked ask result = %q", r)
	}
}

func TestAskCancelled(t *testing.T) {
	fake := &fakeSlack{}
	asker, store, _ := newTestAsker(fake, config.ModePush, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() { done <- asker.Ask(ctx, "hi") }()
	waitFor(t, func() bool { return store.Len() == 1 })
	cancel()

	result := <-done
	if !strings.HasPrefix(result, "Error:") || !strings.Contains(result, "cancelled") {
		t.Errorf("result = %q, want a cancellation error", result)
	}
	if store.Len() != 0 {
		t.Error("wait should be reclaimed after cancellation")
	}
}

func TestAskPollModeAcquiresHumanReply(t *testing.T) {
	fake := &fakeSlack{}
	fake.history = []slack.Message{
		{TS: "1.000", UserID: "UBOT", Text: "Proceed?"},
		{TS: "2.000", ThreadTS: "1.000", BotID: "B001", Text: "bot chatter"},
		{TS: "3.000", ThreadTS: "1.000", UserID: "UHUMAN", Text: "go ahead"},
	}

	asker, _, _ := newTestAsker(fake, config.ModePoll, 5*time.Second)
	asker.SetBotUserID("UBOT")

	result := asker.Ask(context.Background(), "Proceed?")
	if !strings.Contains(result, `"go ahead"`) {
		t.Errorf("result = %q, want the human reply", result)
	}
}

func TestAskPollModeContinuingSessionIgnoresOldReply(t *testing.T) {
	fake := &fakeSlack{}
	fake.appendHistory(
		slack.Message{TS: "1.000", UserID: "UBOT", Text: "First?"},
		slack.Message{TS: "2.000", ThreadTS: "1.000", UserID: "UHUMAN", Text: "old answer"},
	)

	asker, _, session := newTestAsker(fake, config.ModePoll, 3*time.Second)
	asker.SetBotUserID("UBOT")

	first := asker.Ask(context.Background(), "First?")
	if !strings.Contains(first, `"old answer"`) {
		t.Fatalf("first result = %q", first)
	}
	if root, ok := session.Current(); !ok || root != "1.000" {
		t.Fatalf("session root = %q, %v", root, ok)
	}

	// The follow-up threads under the root. The previous answer is still in
	// the thread history, but no one has replied to the new question, so the
	// ask must time out rather than resurface the old reply.
	fake.setNextTS(2)
	fake.appendHistory(slack.Message{TS: "3.000", ThreadTS: "1.000", UserID: "UBOT", Text: "Second?"})
	asker.ApplyTunables(150*time.Millisecond, 10*time.Millisecond)

	second := asker.Ask(context.Background(), "Second?")
	if !strings.HasPrefix(second, "Error:") || !strings.Contains(second, "no reply") {
		t.Errorf("second result = %q, want a timeout, not an earlier reply", second)
	}
}

func TestApplyTunables(t *testing.T) {
	asker, _, _ := newTestAsker(&fakeSlack{}, config.ModePush, 5*time.Second)

	asker.ApplyTunables(time.Minute, 30*time.Second)
	timeout, interval, _ := asker.tunables()
	if timeout != time.Minute || interval != 30*time.Second {
		t.Errorf("tunables = %v, %v", timeout, interval)
	}

	// Zero values leave the current settings alone.
	asker.ApplyTunables(0, 0)
	timeout, interval, _ = asker.tunables()
	if timeout != time.Minute || interval != 30*time.Second {
		t.Errorf("tunables after zero update = %v, %v", timeout, interval)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
