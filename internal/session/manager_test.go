package session

import (
	"strings"
	"testing"
	"time"

	"github.com/you/gg-hub/internal/core"
)

func TestObserveStartsAndEndsSessions(t *testing.T) {
	m := NewManager()
	var started []StartedEvent
	var ended []EndedEvent
	m.OnStarted(func(ev StartedEvent) { started = append(started, ev) })
	m.OnEnded(func(ev EndedEvent) { ended = append(ended, ev) })

	m.Observe(core.StreamStatus{IsLive: true})
	if len(started) != 1 {
		t.Fatalf("expected one session start, got %d", len(started))
	}
	if m.Current() == "" {
		t.Fatalf("expected active session")
	}

	// repeated live answers must not start extra sessions
	m.Observe(core.StreamStatus{IsLive: true})
	m.Observe(core.StreamStatus{IsLive: true})
	if len(started) != 1 {
		t.Fatalf("duplicate live answers started sessions: %d", len(started))
	}

	m.Observe(core.StreamStatus{})
	if len(ended) != 1 {
		t.Fatalf("expected one session end, got %d", len(ended))
	}
	if ended[0].SessionID != started[0].SessionID {
		t.Fatalf("ended a different session: %q vs %q", ended[0].SessionID, started[0].SessionID)
	}
	if m.Current() != "" {
		t.Fatalf("expected no active session after offline")
	}

	// a new live phase mints a fresh ID
	m.Observe(core.StreamStatus{IsLive: true})
	if len(started) != 2 {
		t.Fatalf("expected second session start, got %d", len(started))
	}
	if started[1].SessionID == started[0].SessionID {
		t.Fatalf("session IDs must not repeat")
	}
}

func TestObserveIgnoresIndeterminateStatuses(t *testing.T) {
	m := NewManager()
	var started int
	var ended int
	m.OnStarted(func(StartedEvent) { started++ })
	m.OnEnded(func(EndedEvent) { ended++ })

	m.Observe(core.StreamStatus{IsLoading: true})
	if started != 0 {
		t.Fatalf("loading must not start a session")
	}

	m.Observe(core.StreamStatus{IsLive: true})
	m.Observe(core.StreamStatus{Err: "manifest status 502"})
	if ended != 0 {
		t.Fatalf("probe errors must not end a session")
	}
	m.Observe(core.StreamStatus{IsLoading: true})
	if ended != 0 {
		t.Fatalf("loading must not end a session")
	}

	m.Observe(core.StreamStatus{})
	if ended != 1 {
		t.Fatalf("definitive offline should end the session, got %d ends", ended)
	}
}

func TestOfflineWithoutSessionIsQuiet(t *testing.T) {
	m := NewManager()
	var ended int
	m.OnEnded(func(EndedEvent) { ended++ })

	m.Observe(core.StreamStatus{})
	m.Observe(core.StreamStatus{})
	if ended != 0 {
		t.Fatalf("offline with no session must not emit ends, got %d", ended)
	}
}

func TestNewSessionIDShape(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	id := NewSessionID(now)
	if !strings.HasPrefix(id, "session_") {
		t.Fatalf("missing prefix: %q", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("expected three segments, got %q", id)
	}
	if parts[1] != "1787918400000" {
		t.Fatalf("unexpected millis segment: %q", parts[1])
	}
	if len(parts[2]) != 9 {
		t.Fatalf("expected 9-char suffix, got %q", parts[2])
	}
	if id == NewSessionID(now) {
		t.Fatalf("IDs with the same timestamp must still differ")
	}
}

func TestWelcomeMessage(t *testing.T) {
	now := time.Now().UTC()
	msg := WelcomeMessage("session_1_abc", now)
	if msg.ID != "welcome_session_1_abc" {
		t.Fatalf("unexpected welcome id: %q", msg.ID)
	}
	if !msg.IsSystem {
		t.Fatalf("welcome must be a system message")
	}
	if msg.Username != "StreamMaster" {
		t.Fatalf("unexpected author: %q", msg.Username)
	}
	if len(msg.Badges) != 1 || msg.Badges[0] != "mod" {
		t.Fatalf("unexpected badges: %v", msg.Badges)
	}
	if !strings.Contains(msg.Text, "GlobalGaming") {
		t.Fatalf("unexpected banner text: %q", msg.Text)
	}
}
