package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/playback"
)

// Store is the read surface the API serves message queries from.
type Store interface {
	CountMessages(ctx context.Context, f Filters) (int64, error)
	ListMessages(ctx context.Context, f Filters) ([]core.ChatMessage, error)
	StreamSessions(ctx context.Context, streamID string, limit int) ([]SessionInfo, error)
	Ping() error
}

// SessionInfo describes one broadcast session reconstructed from the
// stored messages of a stream.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int       `json:"message_count"`
}

// ChatView is the live in-memory chat window for the current session.
type ChatView interface {
	Submit(content string) (core.ChatMessage, error)
	Messages() []core.ChatMessage
	StateName() string
	Notice() string
	SessionID() string
	BadgeBoard() []BadgeEntry
}

// BadgeEntry is one user's earned badge for the current session.
type BadgeEntry struct {
	Username string `json:"username"`
	Comments int    `json:"comments"`
	Level    int    `json:"level"`
	Badge    string `json:"badge"`
}

// StatusSource reports the reconciled playback state.
type StatusSource interface {
	Status() core.StreamStatus
}

// Player exposes viewer-side playback controls.
type Player interface {
	Play()
	Pause()
	SetVolume(v float64) error
	SetMuted(muted bool)
	ToggleFullscreen() bool
	Retry()
	State() playback.ControlsState
}

// Analytics serves the merged AI snapshot for the current session.
type Analytics interface {
	SnapshotJSON() ([]byte, error)
	Analyzing() bool
	UpstreamStatus() string
	ForceRefresh(ctx context.Context) error
}

// Deps bundles the collaborators the server fronts. Store is required,
// everything else degrades to 404/503 on its routes when nil.
type Deps struct {
	Store     Store
	View      ChatView
	Status    StatusSource
	Player    Player
	Analytics Analytics
}

type Options struct {
	Addr           string
	StreamID       string
	Build          BuildInfo
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	EnableGzip     bool
	ConfigJSON     []byte
}

type Server struct {
	httpServer *http.Server
	deps       Deps
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy
	mux        *http.ServeMux
	startedAt  time.Time

	mu      sync.Mutex
	clients map[chan core.ChatMessage]Filters
	closed  bool
}

func New(deps Deps, opts Options) *Server {
	srv := &Server{
		deps:      deps,
		opts:      opts,
		metrics:   newMetrics(),
		limiter:   newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:      newCORSPolicy(opts.CORSOrigins),
		clients:   make(map[chan core.ChatMessage]Filters),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.wrap("info", srv.handleInfo))
	mux.HandleFunc("/config", srv.wrap("config", srv.handleConfig))
	mux.Handle("/metrics", srv.metrics.Handler())
	mux.HandleFunc("/api/status", srv.wrap("status", srv.handleStatus))
	mux.HandleFunc("/api/messages", srv.wrap("messages", srv.handleMessages))
	mux.HandleFunc("/api/messages/count", srv.wrap("count", srv.handleCount))
	mux.HandleFunc("/api/sessions", srv.wrap("sessions", srv.handleSessions))
	mux.HandleFunc("/api/stats", srv.wrap("stats", srv.handleStats))
	mux.HandleFunc("/api/chat", srv.wrap("chat", srv.handleChat))
	mux.HandleFunc("/api/badges", srv.wrap("badges", srv.handleBadges))
	mux.HandleFunc("/api/analytics", srv.wrap("analytics", srv.handleAnalytics))
	mux.HandleFunc("/api/analytics/refresh", srv.wrap("analytics_refresh", srv.handleAnalyticsRefresh))
	mux.HandleFunc("/api/player", srv.wrap("player", srv.handlePlayer))
	mux.HandleFunc("/api/player/", srv.wrap("player_action", srv.handlePlayerAction))
	mux.HandleFunc("/stream", srv.wrap("stream", srv.handleStream))
	mux.HandleFunc("/ws", srv.wrap("ws", srv.handleWS))
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the routing table so extra routes can be registered
// before Start.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// ServerMetrics exposes the collector bundle so collaborators can
// report events that happen outside the request path.
func (s *Server) ServerMetrics() *Metrics { return s.metrics }

// ReportDBWriteError feeds store write failures into the metrics.
func (s *Server) ReportDBWriteError() { s.metrics.IncDBWriteErrors() }

func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if handled, status := s.cors.handlePreflight(w, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, 0, 0)
			return
		}
		if !s.cors.applyHeaders(w, r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		rec := newResponseRecorder(w)
		start := time.Now()

		var gz *gzipResponseWriter
		if s.opts.EnableGzip && route != "ws" {
			gz, _ = maybeGzip(rec, r)
		}

		h(rec, r)

		if gz != nil {
			_ = gz.Close()
		}
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start), rec.Bytes())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		http.Error(w, ve.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if len(s.opts.ConfigJSON) == 0 {
		http.Error(w, "config not published", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(s.opts.ConfigJSON)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"stream_id": s.opts.StreamID}
	if s.deps.Status != nil {
		st := s.deps.Status.Status()
		resp["live"] = st.IsLive
		resp["loading"] = st.IsLoading
		if st.Err != "" {
			resp["error"] = st.Err
		}
		if !st.CheckedAt.IsZero() {
			resp["checked_at"] = st.CheckedAt.UTC().Format(time.RFC3339)
		}
	}
	if s.deps.View != nil {
		resp["session_id"] = s.deps.View.SessionID()
		resp["chat_state"] = s.deps.View.StateName()
		if notice := s.deps.View.Notice(); notice != "" {
			resp["chat_notice"] = notice
		}
	}
	if s.deps.Analytics != nil {
		resp["analytics_upstream"] = s.deps.Analytics.UpstreamStatus()
		resp["analyzing"] = s.deps.Analytics.Analyzing()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters.StreamID = s.opts.StreamID

	count, err := s.deps.Store.CountMessages(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"count": count})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listMessages(w, r)
	case http.MethodPost:
		s.submitMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters.StreamID = s.opts.StreamID

	rows, err := s.deps.Store.ListMessages(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, messagesPayload(rows))
}

type submitRequest struct {
	Content string `json:"content"`
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.View == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	msg, err := s.deps.View.Submit(req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, messagePayload(msg))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if f, err := FiltersFromRequest(r); err == nil && f.Limit != defaultLimit {
		limit = f.Limit
	}
	sessions, err := s.deps.Store.StreamSessions(r.Context(), s.opts.StreamID, limit)
	if err != nil {
		http.Error(w, "sessions error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{"stream_id": s.opts.StreamID, "sessions": sessions})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.deps.Store.CountMessages(r.Context(), Filters{StreamID: s.opts.StreamID})
	if err != nil {
		http.Error(w, "stats error", http.StatusInternalServerError)
		return
	}
	sessions, err := s.deps.Store.StreamSessions(r.Context(), s.opts.StreamID, 10)
	if err != nil {
		http.Error(w, "stats error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]any{
		"stream_id":      s.opts.StreamID,
		"total_messages": total,
		"sessions":       sessions,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, _ *http.Request) {
	if s.deps.View == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	resp := map[string]any{
		"session_id": s.deps.View.SessionID(),
		"state":      s.deps.View.StateName(),
		"messages":   messagesPayload(s.deps.View.Messages()),
	}
	if notice := s.deps.View.Notice(); notice != "" {
		resp["notice"] = notice
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleBadges(w http.ResponseWriter, _ *http.Request) {
	if s.deps.View == nil {
		http.Error(w, "chat not running", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]any{
		"session_id": s.deps.View.SessionID(),
		"badges":     s.deps.View.BadgeBoard(),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Analytics == nil {
		http.Error(w, "analytics not running", http.StatusServiceUnavailable)
		return
	}
	data, err := s.deps.Analytics.SnapshotJSON()
	if err != nil {
		http.Error(w, "snapshot error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleAnalyticsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Analytics == nil {
		http.Error(w, "analytics not running", http.StatusServiceUnavailable)
		return
	}
	if err := s.deps.Analytics.ForceRefresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]any{"refreshing": true})
}

func (s *Server) handlePlayer(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Player == nil {
		http.Error(w, "player not running", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.deps.Player.State())
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Player == nil {
		http.Error(w, "player not running", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/api/player/play":
		s.deps.Player.Play()
	case "/api/player/pause":
		s.deps.Player.Pause()
	case "/api/player/volume":
		var req volumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := s.deps.Player.SetVolume(req.Volume); err != nil {
			s.writeError(w, err)
			return
		}
	case "/api/player/mute":
		var req muteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		s.deps.Player.SetMuted(req.Muted)
	case "/api/player/fullscreen":
		s.deps.Player.ToggleFullscreen()
	case "/api/player/retry":
		s.deps.Player.Retry()
	default:
		http.Error(w, "unknown player action", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.deps.Player.State())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters = filters.CloneForStream()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan core.ChatMessage, 256)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.clients[clientCh] = filters
	s.mu.Unlock()
	s.metrics.IncSSEClients(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		s.mu.Unlock()
		s.metrics.IncSSEClients(-1)
	}()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case msg, ok := <-clientCh:
			if !ok {
				return
			}
			data, err := json.Marshal(messagePayload(msg))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncMessagesSent("sse")
		}
	}
}

// Broadcast fans a message out to connected SSE and WS clients. Slow
// clients lose messages rather than stalling the hub.
func (s *Server) Broadcast(msg core.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch, filters := range s.clients {
		if !filters.Matches(msg) {
			continue
		}
		select {
		case ch <- msg:
		default:
			s.metrics.IncBroadcastDrops("sse")
		}
	}
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

// messageJSON is the wire shape of a chat message.
type messageJSON struct {
	ID        string   `json:"id"`
	Ts        string   `json:"ts"`
	Username  string   `json:"username"`
	Text      string   `json:"text"`
	Badges    []string `json:"badges,omitempty"`
	IsSystem  bool     `json:"is_system,omitempty"`
	IsOwn     bool     `json:"is_own,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Type      string   `json:"type"`
}

func messagePayload(msg core.ChatMessage) messageJSON {
	return messageJSON{
		ID:        msg.ID,
		Ts:        msg.Ts.UTC().Format(time.RFC3339Nano),
		Username:  msg.Username,
		Text:      msg.Text,
		Badges:    msg.Badges,
		IsSystem:  msg.IsSystem,
		IsOwn:     msg.IsOwnMessage,
		SessionID: msg.SessionID,
		Type:      msg.Type(),
	}
}

func messagesPayload(msgs []core.ChatMessage) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messagePayload(msg))
	}
	return out
}
