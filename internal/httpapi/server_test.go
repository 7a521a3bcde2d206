package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/playback"
)

type fakeStore struct {
	msgs     []core.ChatMessage
	sessions []SessionInfo
	pingErr  error

	lastFilters Filters
}

func (f *fakeStore) CountMessages(_ context.Context, filters Filters) (int64, error) {
	f.lastFilters = filters
	return int64(len(f.msgs)), nil
}

func (f *fakeStore) ListMessages(_ context.Context, filters Filters) ([]core.ChatMessage, error) {
	f.lastFilters = filters
	return f.msgs, nil
}

func (f *fakeStore) StreamSessions(context.Context, string, int) ([]SessionInfo, error) {
	return f.sessions, nil
}

func (f *fakeStore) Ping() error { return f.pingErr }

type fakeView struct {
	msgs      []core.ChatMessage
	board     []BadgeEntry
	submitErr error
	submitted string
}

func (f *fakeView) Submit(content string) (core.ChatMessage, error) {
	if f.submitErr != nil {
		return core.ChatMessage{}, f.submitErr
	}
	f.submitted = content
	return core.ChatMessage{
		ID:           "user_1_abcdefghi",
		Ts:           time.Now(),
		Username:     "You",
		Text:         content,
		IsOwnMessage: true,
		SessionID:    "session_1_abc",
	}, nil
}

func (f *fakeView) Messages() []core.ChatMessage { return f.msgs }
func (f *fakeView) StateName() string            { return "populated" }
func (f *fakeView) Notice() string               { return "" }
func (f *fakeView) SessionID() string            { return "session_1_abc" }
func (f *fakeView) BadgeBoard() []BadgeEntry     { return f.board }

type fakeStatus struct{ st core.StreamStatus }

func (f fakeStatus) Status() core.StreamStatus { return f.st }

type fakePlayer struct {
	state  playback.ControlsState
	volErr error
}

func (f *fakePlayer) Play()  { f.state.Playing = true }
func (f *fakePlayer) Pause() { f.state.Playing = false }
func (f *fakePlayer) SetVolume(v float64) error {
	if f.volErr != nil {
		return f.volErr
	}
	f.state.Volume = v
	return nil
}
func (f *fakePlayer) SetMuted(m bool) { f.state.Muted = m }
func (f *fakePlayer) ToggleFullscreen() bool {
	f.state.Fullscreen = !f.state.Fullscreen
	return f.state.Fullscreen
}
func (f *fakePlayer) Retry()                        {}
func (f *fakePlayer) State() playback.ControlsState { return f.state }

type fakeAnalytics struct {
	data       []byte
	refreshErr error
	refreshed  int
}

func (f *fakeAnalytics) SnapshotJSON() ([]byte, error) { return f.data, nil }
func (f *fakeAnalytics) Analyzing() bool               { return false }
func (f *fakeAnalytics) UpstreamStatus() string        { return "connected" }
func (f *fakeAnalytics) ForceRefresh(context.Context) error {
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshed++
	return nil
}

func newTestServer(deps Deps) *Server {
	return New(deps, Options{StreamID: "global-gaming-live"})
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(Deps{Store: store})

	if rec := do(srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}

	store.pingErr = context.DeadlineExceeded
	if rec := do(srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with broken store = %d", rec.Code)
	}
}

func TestListMessagesScopedToStream(t *testing.T) {
	store := &fakeStore{msgs: []core.ChatMessage{
		{ID: "m1", Ts: time.Now(), Username: "alice", Text: "hi", SessionID: "session_1_abc"},
	}}
	srv := newTestServer(Deps{Store: store})

	rec := do(srv, http.MethodGet, "/api/messages?session=session_1_abc&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if store.lastFilters.StreamID != "global-gaming-live" {
		t.Fatalf("stream id not forced: %+v", store.lastFilters)
	}
	if store.lastFilters.SessionID != "session_1_abc" || store.lastFilters.Limit != 5 {
		t.Fatalf("filters = %+v", store.lastFilters)
	}

	var payload []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload) != 1 || payload[0]["type"] != "viewer" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestSubmitMessage(t *testing.T) {
	view := &fakeView{}
	srv := newTestServer(Deps{Store: &fakeStore{}, View: view})

	rec := do(srv, http.MethodPost, "/api/messages", `{"content":"hello chat"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if view.submitted != "hello chat" {
		t.Fatalf("submitted = %q", view.submitted)
	}

	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["username"] != "You" || payload["is_own"] != true || payload["type"] != "user" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestSubmitMessageValidation(t *testing.T) {
	view := &fakeView{submitErr: &core.ValidationError{Reason: "message is empty"}}
	srv := newTestServer(Deps{Store: &fakeStore{}, View: view})

	if rec := do(srv, http.MethodPost, "/api/messages", `{"content":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	if rec := do(srv, http.MethodPost, "/api/messages", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", rec.Code)
	}
}

func TestSubmitMessageWithoutChat(t *testing.T) {
	srv := newTestServer(Deps{Store: &fakeStore{}})
	if rec := do(srv, http.MethodPost, "/api/messages", `{"content":"x"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusMergesSources(t *testing.T) {
	srv := newTestServer(Deps{
		Store:     &fakeStore{},
		View:      &fakeView{},
		Status:    fakeStatus{st: core.StreamStatus{IsLive: true, CheckedAt: time.Now()}},
		Analytics: &fakeAnalytics{},
	})

	rec := do(srv, http.MethodGet, "/api/status", "")
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["live"] != true {
		t.Fatalf("live = %v", payload["live"])
	}
	if payload["session_id"] != "session_1_abc" || payload["chat_state"] != "populated" {
		t.Fatalf("chat fields = %+v", payload)
	}
	if payload["analytics_upstream"] != "connected" {
		t.Fatalf("analytics fields = %+v", payload)
	}
}

func TestBadges(t *testing.T) {
	view := &fakeView{board: []BadgeEntry{{Username: "alice", Comments: 5, Level: 6, Badge: "Legend"}}}
	srv := newTestServer(Deps{Store: &fakeStore{}, View: view})

	rec := do(srv, http.MethodGet, "/api/badges", "")
	var payload struct {
		SessionID string       `json:"session_id"`
		Badges    []BadgeEntry `json:"badges"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Badges) != 1 || payload.Badges[0].Badge != "Legend" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestStats(t *testing.T) {
	store := &fakeStore{
		msgs:     []core.ChatMessage{{ID: "a"}, {ID: "b"}},
		sessions: []SessionInfo{{SessionID: "session_1_abc", MessageCount: 2}},
	}
	srv := newTestServer(Deps{Store: store})

	rec := do(srv, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		StreamID      string        `json:"stream_id"`
		TotalMessages int64         `json:"total_messages"`
		Sessions      []SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.StreamID != "global-gaming-live" || payload.TotalMessages != 2 {
		t.Fatalf("payload = %+v", payload)
	}
	if len(payload.Sessions) != 1 || payload.Sessions[0].SessionID != "session_1_abc" {
		t.Fatalf("sessions = %+v", payload.Sessions)
	}
}

func TestPlayerActions(t *testing.T) {
	player := &fakePlayer{state: playback.ControlsState{Muted: true, Volume: 1}}
	srv := newTestServer(Deps{Store: &fakeStore{}, Player: player})

	if rec := do(srv, http.MethodPost, "/api/player/play", ""); rec.Code != http.StatusOK {
		t.Fatalf("play = %d", rec.Code)
	}
	if !player.state.Playing {
		t.Fatal("play not applied")
	}

	rec := do(srv, http.MethodPost, "/api/player/volume", `{"volume":0.4}`)
	if rec.Code != http.StatusOK || player.state.Volume != 0.4 {
		t.Fatalf("volume = %d state=%+v", rec.Code, player.state)
	}

	player.volErr = &core.ValidationError{Reason: "volume out of range"}
	if rec := do(srv, http.MethodPost, "/api/player/volume", `{"volume":2}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid volume = %d", rec.Code)
	}

	if rec := do(srv, http.MethodPost, "/api/player/warp", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action = %d", rec.Code)
	}
	if rec := do(srv, http.MethodGet, "/api/player/play", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET action = %d", rec.Code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	an := &fakeAnalytics{data: []byte(`{"active":true}`)}
	srv := newTestServer(Deps{Store: &fakeStore{}, Analytics: an})

	rec := do(srv, http.MethodGet, "/api/analytics", "")
	if rec.Code != http.StatusOK || rec.Body.String() != `{"active":true}` {
		t.Fatalf("analytics = %d %q", rec.Code, rec.Body.String())
	}

	if rec := do(srv, http.MethodPost, "/api/analytics/refresh", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("refresh = %d", rec.Code)
	}
	if an.refreshed != 1 {
		t.Fatalf("refreshed = %d", an.refreshed)
	}
	if rec := do(srv, http.MethodGet, "/api/analytics/refresh", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh = %d", rec.Code)
	}

	an.refreshErr = &core.ValidationError{Reason: "no active session"}
	if rec := do(srv, http.MethodPost, "/api/analytics/refresh", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("refresh without session = %d", rec.Code)
	}

	srv = newTestServer(Deps{Store: &fakeStore{}})
	if rec := do(srv, http.MethodGet, "/api/analytics", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("analytics without controller = %d", rec.Code)
	}
}

func TestBroadcastHonorsClientFilters(t *testing.T) {
	srv := newTestServer(Deps{Store: &fakeStore{}})

	matching := make(chan core.ChatMessage, 1)
	other := make(chan core.ChatMessage, 1)
	srv.mu.Lock()
	srv.clients[matching] = Filters{SessionID: "session_1_abc"}
	srv.clients[other] = Filters{SessionID: "session_2_def"}
	srv.mu.Unlock()

	srv.Broadcast(core.ChatMessage{ID: "m1", Ts: time.Now(), Username: "alice", Text: "hi", SessionID: "session_1_abc"})

	select {
	case msg := <-matching:
		if msg.ID != "m1" {
			t.Fatalf("got %+v", msg)
		}
	default:
		t.Fatal("matching client got nothing")
	}
	select {
	case msg := <-other:
		t.Fatalf("filtered client got %+v", msg)
	default:
	}
}

func TestRateLimit(t *testing.T) {
	srv := New(Deps{Store: &fakeStore{}}, Options{StreamID: "s", RateLimitRPS: 1, RateLimitBurst: 1})

	if rec := do(srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	if rec := do(srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d", rec.Code)
	}
}
