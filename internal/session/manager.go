package session

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/gg-hub/internal/core"
)

const welcomeText = "🎮 Welcome to GlobalGaming! Stream is now LIVE!"

// StartedEvent announces a new broadcast session. The welcome banner is
// minted together with the ID so every subscriber pins the same one.
type StartedEvent struct {
	SessionID string
	StartedAt time.Time
	Welcome   core.ChatMessage
}

// EndedEvent announces that the stream dropped and the session closed.
type EndedEvent struct {
	SessionID string
	EndedAt   time.Time
}

type liveState int

const (
	stateUnknown liveState = iota
	stateLive
	stateOffline
)

// Manager derives session boundaries from the playback status feed.
// Loading and error statuses are ignored: only a definitive offline
// answer ends a session, and only a definitive live answer starts one.
type Manager struct {
	mu        sync.Mutex
	state     liveState
	current   string
	startedAt time.Time

	onStarted []func(StartedEvent)
	onEnded   []func(EndedEvent)
}

func NewManager() *Manager {
	return &Manager{}
}

// OnStarted registers a subscriber for session starts. Not safe to call
// once Observe is being fed.
func (m *Manager) OnStarted(fn func(StartedEvent)) {
	m.onStarted = append(m.onStarted, fn)
}

// OnEnded registers a subscriber for session ends.
func (m *Manager) OnEnded(fn func(EndedEvent)) {
	m.onEnded = append(m.onEnded, fn)
}

// Current returns the active session ID, or "" between sessions.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Observe feeds one reconciled playback status into the manager.
func (m *Manager) Observe(status core.StreamStatus) {
	if status.IsLoading {
		return
	}
	if status.Err != "" && !status.IsLive {
		// error statuses are indeterminate, hold the current session
		return
	}
	if status.IsLive {
		m.goLive()
		return
	}
	m.goOffline()
}

func (m *Manager) goLive() {
	m.mu.Lock()
	if m.state == stateLive {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	id := NewSessionID(now)
	m.state = stateLive
	m.current = id
	m.startedAt = now
	subs := append(([]func(StartedEvent))(nil), m.onStarted...)
	m.mu.Unlock()

	log.Printf("session: started %s", id)
	ev := StartedEvent{SessionID: id, StartedAt: now, Welcome: WelcomeMessage(id, now)}
	for _, fn := range subs {
		fn(ev)
	}
}

func (m *Manager) goOffline() {
	m.mu.Lock()
	if m.state != stateLive {
		m.state = stateOffline
		m.mu.Unlock()
		return
	}
	id := m.current
	m.state = stateOffline
	m.current = ""
	m.startedAt = time.Time{}
	subs := append(([]func(EndedEvent))(nil), m.onEnded...)
	m.mu.Unlock()

	log.Printf("session: ended %s", id)
	ev := EndedEvent{SessionID: id, EndedAt: time.Now().UTC()}
	for _, fn := range subs {
		fn(ev)
	}
}

// NewSessionID mints a session identifier: session_<unix ms>_<suffix>.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

// WelcomeMessage builds the pinned system banner for a session. Its ID
// is derived from the session so re-emissions stay idempotent.
func WelcomeMessage(sessionID string, ts time.Time) core.ChatMessage {
	return core.ChatMessage{
		ID:        "welcome_" + sessionID,
		Ts:        ts,
		Username:  "StreamMaster",
		Text:      welcomeText,
		Badges:    []string{"mod"},
		IsSystem:  true,
		SessionID: sessionID,
	}
}
