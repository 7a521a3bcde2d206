package chatview

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/session"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []core.ChatMessage
	history []core.ChatMessage
	histErr error
	saveErr error
}

func (f *fakeStore) SaveMessage(_ context.Context, msg core.ChatMessage, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeStore) SessionMessages(_ context.Context, _, _ string, _ int) ([]core.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	return append([]core.ChatMessage(nil), f.history...), nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func testConfig() Config {
	return Config{
		StreamID:      "stream-1",
		MaxMessageLen: 500,
		Window:        49,
		HistoryLimit:  50,
		NoticeClear:   40 * time.Millisecond,
	}
}

func startSession(c *Controller) session.StartedEvent {
	now := time.Now().UTC()
	id := session.NewSessionID(now)
	ev := session.StartedEvent{SessionID: id, StartedAt: now, Welcome: session.WelcomeMessage(id, now)}
	c.HandleSessionStarted(ev)
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionStartPinsWelcome(t *testing.T) {
	store := &fakeStore{}
	c := New(testConfig(), store, nil)

	ev := startSession(c)
	waitFor(t, "populated state", func() bool { return c.StateName() == "populated" })

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected only the welcome banner, got %d messages", len(msgs))
	}
	if msgs[0].ID != "welcome_"+ev.SessionID {
		t.Fatalf("unexpected banner id: %q", msgs[0].ID)
	}
	if !msgs[0].IsSystem {
		t.Fatalf("banner must be a system message")
	}

	// the banner is persisted too
	waitFor(t, "welcome persisted", func() bool { return store.savedCount() == 1 })
}

func TestHistoryLoadMergesWithoutDuplicateBanner(t *testing.T) {
	now := time.Now().UTC()
	id := session.NewSessionID(now)
	store := &fakeStore{history: []core.ChatMessage{
		session.WelcomeMessage(id, now),
		{ID: "demo_1", Ts: now.Add(time.Second), Username: "GamerX", Text: "hi", SessionID: id},
		{ID: "demo_2", Ts: now.Add(2 * time.Second), Username: "StreamFan", Text: "yo", SessionID: id},
	}}
	c := New(testConfig(), store, nil)
	c.HandleSessionStarted(session.StartedEvent{SessionID: id, StartedAt: now, Welcome: session.WelcomeMessage(id, now)})

	waitFor(t, "history merged", func() bool { return len(c.Messages()) == 3 })

	msgs := c.Messages()
	if msgs[0].ID != "welcome_"+id {
		t.Fatalf("banner must stay first, got %q", msgs[0].ID)
	}
	for _, m := range msgs[1:] {
		if m.IsSystem {
			t.Fatalf("duplicate banner leaked into window")
		}
	}
}

func TestHistoryFailureRaisesTransientNotice(t *testing.T) {
	store := &fakeStore{histErr: errors.New("table missing")}
	c := New(testConfig(), store, nil)
	startSession(c)

	waitFor(t, "history failure notice", func() bool {
		return c.Notice() == "Failed to load chat history"
	})
	if c.StateName() != "populated" {
		t.Fatalf("window should still become usable, state=%s", c.StateName())
	}

	waitFor(t, "notice auto-clear", func() bool { return c.Notice() == "" })
	if len(c.Messages()) != 1 {
		t.Fatalf("banner should survive the failed load")
	}
}

func TestSubmitValidation(t *testing.T) {
	c := New(testConfig(), &fakeStore{}, nil)

	if _, err := c.Submit("hello"); err == nil {
		t.Fatalf("submit without a session must fail")
	}

	startSession(c)
	if _, err := c.Submit("   "); err == nil {
		t.Fatalf("blank message must fail validation")
	}
	var ve *core.ValidationError
	_, err := c.Submit(strings.Repeat("x", 501))
	if err == nil || !errors.As(err, &ve) {
		t.Fatalf("oversize message must fail with a validation error, got %v", err)
	}
}

func TestSubmitAppendsAndPersists(t *testing.T) {
	store := &fakeStore{}
	c := New(testConfig(), store, nil)
	ev := startSession(c)

	msg, err := c.Submit("glhf everyone")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(msg.ID, "user_") {
		t.Fatalf("own message id should be user_ prefixed, got %q", msg.ID)
	}
	if msg.Username != "You" || !msg.IsOwnMessage {
		t.Fatalf("own message fields wrong: %+v", msg)
	}
	if msg.SessionID != ev.SessionID {
		t.Fatalf("message tagged with wrong session: %q", msg.SessionID)
	}

	msgs := c.Messages()
	if msgs[len(msgs)-1].ID != msg.ID {
		t.Fatalf("submitted message should be last in window")
	}
	waitFor(t, "own message persisted", func() bool { return store.savedCount() == 2 })
}

func TestSaveFailureRaisesNoticeButKeepsMessage(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("conditional check failed")}
	c := New(testConfig(), store, nil)
	startSession(c)

	msg, err := c.Submit("still visible")
	if err != nil {
		t.Fatalf("submit should succeed locally: %v", err)
	}

	waitFor(t, "save failure notice", func() bool {
		return c.Notice() == "Message sent but not saved to database"
	})

	found := false
	for _, m := range c.Messages() {
		if m.ID == msg.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("message must stay in the window despite the failed save")
	}

	waitFor(t, "notice auto-clear", func() bool { return c.Notice() == "" })
}

func TestWindowEvictionKeepsBannerPinned(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 3
	c := New(cfg, &fakeStore{}, nil)
	ev := startSession(c)
	waitFor(t, "populated state", func() bool { return c.StateName() == "populated" })

	for i := 0; i < 5; i++ {
		if _, err := c.Submit("message " + strings.Repeat("x", i+1)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	msgs := c.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected banner + 3 tail messages, got %d", len(msgs))
	}
	if msgs[0].ID != "welcome_"+ev.SessionID {
		t.Fatalf("banner rotated out of the window")
	}
	if msgs[1].Text != "message xxx" {
		t.Fatalf("oldest tail message should have been evicted, head of tail is %q", msgs[1].Text)
	}
}

func TestSessionEndClearsWindow(t *testing.T) {
	c := New(testConfig(), &fakeStore{}, nil)
	ev := startSession(c)
	if _, err := c.Submit("bye"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	c.HandleSessionEnded(session.EndedEvent{SessionID: ev.SessionID})
	if c.SessionID() != "" {
		t.Fatalf("session id should clear")
	}
	if c.StateName() != "empty" {
		t.Fatalf("state should reset to empty, got %s", c.StateName())
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("window should be empty after session end")
	}
	if len(c.BadgeBoard()) != 0 {
		t.Fatalf("badge board should reset")
	}
}

func TestBadgeBoardLevels(t *testing.T) {
	c := New(testConfig(), &fakeStore{}, nil)
	startSession(c)

	for i := 0; i < 5; i++ {
		if _, err := c.Submit("again and again"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	board := c.BadgeBoard()
	if len(board) != 1 {
		t.Fatalf("expected one participant, got %d", len(board))
	}
	if board[0].Comments != 5 || board[0].Level != 6 || board[0].Badge != "Legend" {
		t.Fatalf("unexpected badge entry: %+v", board[0])
	}
}

func TestDemoFeedEmitsViewerMessages(t *testing.T) {
	cfg := testConfig()
	cfg.Demo = DemoConfig{Enabled: true, Interval: 10 * time.Millisecond, Chance: 1.0, SubChance: 0.15}
	store := &fakeStore{}
	c := New(cfg, store, nil)
	ev := startSession(c)

	waitFor(t, "demo messages", func() bool { return len(c.Messages()) >= 3 })
	for _, m := range c.Messages()[1:] {
		if !strings.HasPrefix(m.ID, "demo_") {
			t.Fatalf("expected demo_ prefixed id, got %q", m.ID)
		}
		if m.SessionID != ev.SessionID {
			t.Fatalf("demo message tagged with wrong session")
		}
	}

	c.HandleSessionEnded(session.EndedEvent{SessionID: ev.SessionID})
	time.Sleep(50 * time.Millisecond)
	if n := len(c.Messages()); n != 0 {
		t.Fatalf("demo feed kept writing after session end: %d messages", n)
	}
}
