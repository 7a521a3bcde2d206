package widget

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/insight"
	"github.com/you/gg-hub/internal/session"
)

// MessageStore fetches the persisted messages of one session.
type MessageStore interface {
	SessionMessages(ctx context.Context, streamID, sessionID string, limit int) ([]core.ChatMessage, error)
}

// Analyzer runs the AI analyses behind the metrics widget.
type Analyzer interface {
	AnalyzeChatSentiment(ctx context.Context, msgs []core.ChatMessage, streamContext string) *insight.SentimentReport
	AnalyzeBadgeDistribution(ctx context.Context, msgs []core.ChatMessage) *insight.BadgeReport
	TestConnection(ctx context.Context) error
	Ready() bool
}

// RefreshMetrics counts refresh outcomes. Satisfied by *httpapi.Metrics.
type RefreshMetrics interface {
	IncAnalyticsRefresh(result string)
}

// Activity summarizes raw chat volume alongside the AI reports.
type Activity struct {
	TotalMessages int `json:"total_messages"`
	UniqueUsers   int `json:"unique_users"`
}

// Snapshot is the full widget state served to clients.
type Snapshot struct {
	SessionID  string                   `json:"session_id,omitempty"`
	Active     bool                     `json:"active"`
	Sentiment  *insight.SentimentReport `json:"sentiment,omitempty"`
	Badges     *insight.BadgeReport     `json:"badges,omitempty"`
	Activity   Activity                 `json:"activity"`
	AnalyzedAt time.Time                `json:"analyzed_at"`
}

// Config tunes the widget refresh loop.
type Config struct {
	StreamID        string
	StreamContext   string
	Refresh         time.Duration
	FetchLimit      int
	AnalysisTimeout time.Duration
}

const (
	defaultRefresh         = 2 * time.Minute
	defaultFetchLimit      = 100
	defaultAnalysisTimeout = 45 * time.Second

	upstreamCheckTTL     = time.Minute
	upstreamCheckTimeout = 10 * time.Second
)

// Controller keeps the analytics snapshot for the current session
// fresh. One refresh loop runs per live session; results from a
// session that has since ended are discarded.
type Controller struct {
	cfg     Config
	store   MessageStore
	ai      Analyzer
	metrics RefreshMetrics

	mu        sync.Mutex
	snap      Snapshot
	sessionID string
	analyzing bool
	cancel    context.CancelFunc

	upMu      sync.Mutex
	upstream  string
	upChecked time.Time
}

func New(cfg Config, store MessageStore, ai Analyzer) *Controller {
	if cfg.Refresh <= 0 {
		cfg.Refresh = defaultRefresh
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaultAnalysisTimeout
	}
	if cfg.StreamContext == "" {
		cfg.StreamContext = "GlobalGaming esports stream"
	}
	return &Controller{cfg: cfg, store: store, ai: ai}
}

// SetMetrics wires refresh outcome counters. Call before the first
// session starts.
func (c *Controller) SetMetrics(m RefreshMetrics) { c.metrics = m }

// HandleSessionStarted resets the snapshot and starts the refresh loop
// for the new session.
func (c *Controller) HandleSessionStarted(ev session.StartedEvent) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.sessionID = ev.SessionID
	c.snap = Snapshot{SessionID: ev.SessionID, Active: true}
	c.mu.Unlock()

	go c.run(ctx, ev.SessionID)
}

// HandleSessionEnded stops the loop and marks the snapshot inactive.
// The last analysis of the finished session stays readable.
func (c *Controller) HandleSessionEnded(session.EndedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.sessionID = ""
	c.snap.Active = false
}

func (c *Controller) run(ctx context.Context, sessionID string) {
	c.refresh(ctx, sessionID)
	ticker := time.NewTicker(c.cfg.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx, sessionID)
		}
	}
}

func (c *Controller) countResult(result string) {
	if c.metrics != nil {
		c.metrics.IncAnalyticsRefresh(result)
	}
}

func (c *Controller) refresh(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if c.analyzing || c.sessionID != sessionID {
		busy := c.analyzing
		c.mu.Unlock()
		if busy {
			c.countResult("busy")
		}
		return
	}
	c.analyzing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.analyzing = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AnalysisTimeout)
	defer cancel()

	msgs, err := c.store.SessionMessages(ctx, c.cfg.StreamID, sessionID, c.cfg.FetchLimit)
	if err != nil {
		slog.Warn("widget: session history fetch failed", "session", sessionID, "err", err)
		c.countResult("error")
		return
	}

	if len(msgs) == 0 {
		c.storeSnapshot(sessionID, Snapshot{
			SessionID: sessionID,
			Active:    true,
			Sentiment: &insight.SentimentReport{
				Sentiment:       insight.Sentiment{Overall: "neutral"},
				Summary:         "No messages in this session yet.",
				Highlights:      []insight.Highlight{},
				Topics:          []insight.Topic{},
				Engagement:      insight.Engagement{Level: "low", Indicators: []string{}},
				Recommendations: []string{"Start engaging with viewers to build community!"},
			},
			AnalyzedAt: time.Now(),
		})
		return
	}

	streamContext := c.cfg.StreamContext + " session " + sessionID

	var (
		wg        sync.WaitGroup
		sentiment *insight.SentimentReport
		badges    *insight.BadgeReport
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sentiment = c.ai.AnalyzeChatSentiment(ctx, msgs, streamContext)
	}()
	go func() {
		defer wg.Done()
		badges = c.ai.AnalyzeBadgeDistribution(ctx, msgs)
	}()
	wg.Wait()

	users := map[string]struct{}{}
	total := 0
	for _, m := range msgs {
		if m.IsSystem {
			continue
		}
		total++
		users[m.Username] = struct{}{}
	}

	c.storeSnapshot(sessionID, Snapshot{
		SessionID:  sessionID,
		Active:     true,
		Sentiment:  sentiment,
		Badges:     badges,
		Activity:   Activity{TotalMessages: total, UniqueUsers: len(users)},
		AnalyzedAt: time.Now(),
	})
}

// storeSnapshot installs the snapshot unless the session changed while
// the analysis was running.
func (c *Controller) storeSnapshot(sessionID string, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		c.countResult("stale")
		return
	}
	c.snap = snap
	c.countResult("ok")
}

// ForceRefresh runs an analysis outside the regular interval. Returns
// a validation error when no session is live.
func (c *Controller) ForceRefresh(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return &core.ValidationError{Reason: "no active session"}
	}
	go c.refresh(context.WithoutCancel(ctx), sessionID)
	return nil
}

// Analyzing reports whether a refresh is currently running.
func (c *Controller) Analyzing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzing
}

// Snapshot returns a copy of the current widget state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// SnapshotJSON renders the snapshot for the HTTP layer.
func (c *Controller) SnapshotJSON() ([]byte, error) {
	c.mu.Lock()
	snap := c.snap
	c.mu.Unlock()
	return json.Marshal(snap)
}

// UpstreamStatus reports connectivity to the analysis model as
// "checking", "connected" or "disconnected". The probe result is
// cached and revalidated in the background.
func (c *Controller) UpstreamStatus() string {
	if !c.ai.Ready() {
		return "disconnected"
	}
	c.upMu.Lock()
	defer c.upMu.Unlock()
	if c.upstream != "" && time.Since(c.upChecked) < upstreamCheckTTL {
		return c.upstream
	}
	if c.upstream == "" {
		c.upstream = "checking"
	}
	c.upChecked = time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), upstreamCheckTimeout)
		defer cancel()
		status := "connected"
		if err := c.ai.TestConnection(ctx); err != nil {
			status = "disconnected"
		}
		c.upMu.Lock()
		c.upstream = status
		c.upMu.Unlock()
	}()
	return c.upstream
}
