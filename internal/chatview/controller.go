package chatview

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/httpapi"
	"github.com/you/gg-hub/internal/msgtrace"
	"github.com/you/gg-hub/internal/session"
)

// State is the lifecycle of the chat window within one session.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StatePopulated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePopulated:
		return "populated"
	default:
		return "empty"
	}
}

const (
	noticeHistoryFailed = "Failed to load chat history"
	noticeSaveFailed    = "Message sent but not saved to database"
)

// Store is the persistence surface the controller needs.
type Store interface {
	SaveMessage(ctx context.Context, msg core.ChatMessage, streamID string) error
	SessionMessages(ctx context.Context, streamID, sessionID string, limit int) ([]core.ChatMessage, error)
}

// WriteErrorReporter is satisfied by the API server's metrics hook.
type WriteErrorReporter interface {
	ReportDBWriteError()
}

type Config struct {
	StreamID      string
	MaxMessageLen int
	Window        int // rolling cap of non-system messages kept in memory
	HistoryLimit  int
	NoticeClear   time.Duration
	Demo          DemoConfig
}

// Controller owns the in-memory chat window for the current session:
// the pinned welcome banner, the rolling message tail, per-user comment
// counts, and the transient error notice. Persistence is write-behind;
// a failed save surfaces as a notice, never as a lost message.
type Controller struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	reporter WriteErrorReporter

	mu          sync.Mutex
	state       State
	sessionID   string
	messages    []core.ChatMessage
	counts      map[string]int
	notice      string
	noticeSeq   int
	noticeTimer *time.Timer
	demoCancel  context.CancelFunc
}

func New(cfg Config, store Store, logger *slog.Logger) *Controller {
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = 500
	}
	if cfg.Window <= 0 {
		cfg.Window = 49
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.NoticeClear <= 0 {
		cfg.NoticeClear = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		store:  store,
		logger: logger,
		counts: make(map[string]int),
	}
}

// SetWriteErrorReporter attaches the metrics hook for failed saves.
func (c *Controller) SetWriteErrorReporter(r WriteErrorReporter) { c.reporter = r }

// SetStore swaps the persistence backend. Call before the first
// session starts; the broadcast wrapper is wired this way because the
// API server needs the controller to exist first.
func (c *Controller) SetStore(s Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = s
}

// HandleSessionStarted resets the window for the new session, pins the
// welcome banner, persists it, and kicks off the history load and the
// demo feed.
func (c *Controller) HandleSessionStarted(ev session.StartedEvent) {
	c.mu.Lock()
	c.stopDemoLocked()
	c.sessionID = ev.SessionID
	c.state = StateLoading
	c.messages = []core.ChatMessage{ev.Welcome}
	c.counts = make(map[string]int)
	c.clearNoticeLocked()

	var demoCtx context.Context
	if c.cfg.Demo.Enabled {
		demoCtx, c.demoCancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	go c.persist(ev.Welcome, ev.SessionID, false)
	go c.loadHistory(ev.SessionID)
	if demoCtx != nil {
		go c.runDemoFeed(demoCtx, ev.SessionID)
	}
}

// HandleSessionEnded clears the window back to empty.
func (c *Controller) HandleSessionEnded(session.EndedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopDemoLocked()
	c.sessionID = ""
	c.state = StateEmpty
	c.messages = nil
	c.counts = make(map[string]int)
	c.clearNoticeLocked()
}

func (c *Controller) loadHistory(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	history, err := c.store.SessionMessages(ctx, c.cfg.StreamID, sessionID, c.cfg.HistoryLimit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return // session flipped while loading, result is stale
	}
	if err != nil {
		c.logger.Warn("chat history load failed", "session", sessionID, "err", err)
		c.state = StatePopulated
		c.setNoticeLocked(noticeHistoryFailed)
		return
	}

	for _, msg := range history {
		if msg.IsSystem && msg.ID == "welcome_"+sessionID {
			continue // banner is already pinned
		}
		c.appendLocked(msg)
		if !msg.IsSystem {
			c.counts[strings.ToLower(msg.Username)]++
		}
	}
	c.state = StatePopulated
}

// Submit validates and appends an own message, then persists it in the
// background.
func (c *Controller) Submit(content string) (core.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return core.ChatMessage{}, &core.ValidationError{Reason: "message is empty"}
	}
	if n := len([]rune(content)); n > c.cfg.MaxMessageLen {
		return core.ChatMessage{}, &core.ValidationError{
			Reason: "message exceeds " + strconv.Itoa(c.cfg.MaxMessageLen) + " characters",
		}
	}

	c.mu.Lock()
	if c.sessionID == "" {
		c.mu.Unlock()
		return core.ChatMessage{}, &core.ValidationError{Reason: "no active session"}
	}
	now := time.Now().UTC()
	msg := core.ChatMessage{
		ID:           "user_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + idSuffix(),
		Ts:           now,
		Username:     "You",
		Text:         content,
		IsOwnMessage: true,
		SessionID:    c.sessionID,
	}
	c.appendLocked(msg)
	c.counts[strings.ToLower(msg.Username)]++
	sessionID := c.sessionID
	c.mu.Unlock()

	go c.persist(msg, sessionID, true)
	return msg, nil
}

// persist writes one message behind the window. notify controls whether
// a failure raises the user-facing notice.
func (c *Controller) persist(msg core.ChatMessage, sessionID string, notify bool) {
	trace := msgtrace.New(sessionID, msg.Username, snippet(msg.Text))
	trace.IncCounter(msgtrace.StageAppended)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.SaveMessage(ctx, msg, c.cfg.StreamID); err != nil {
		trace.IncCounter(msgtrace.StageDropped("store"))
		trace.LogTrace(c.logger, "message not persisted")
		if c.reporter != nil {
			c.reporter.ReportDBWriteError()
		}
		if notify {
			c.mu.Lock()
			if c.sessionID == sessionID {
				c.setNoticeLocked(noticeSaveFailed)
			}
			c.mu.Unlock()
		}
		return
	}
	trace.IncCounter(msgtrace.StagePersisted)
}

// appendLocked adds a message and evicts the oldest non-system entries
// beyond the window. The welcome banner never rotates out.
func (c *Controller) appendLocked(msg core.ChatMessage) {
	c.messages = append(c.messages, msg)

	nonSystem := 0
	for _, m := range c.messages {
		if !m.IsSystem {
			nonSystem++
		}
	}
	if nonSystem <= c.cfg.Window {
		return
	}

	evict := nonSystem - c.cfg.Window
	kept := c.messages[:0]
	for _, m := range c.messages {
		if !m.IsSystem && evict > 0 {
			evict--
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
}

func (c *Controller) setNoticeLocked(text string) {
	c.notice = text
	c.noticeSeq++
	seq := c.noticeSeq
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.noticeTimer = time.AfterFunc(c.cfg.NoticeClear, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.noticeSeq == seq {
			c.notice = ""
		}
	})
}

func (c *Controller) clearNoticeLocked() {
	c.notice = ""
	c.noticeSeq++
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

// Messages returns a copy of the current window.
func (c *Controller) Messages() []core.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.ChatMessage(nil), c.messages...)
}

func (c *Controller) StateName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// BadgeBoard lists each participant's session badge, busiest first.
func (c *Controller) BadgeBoard() []httpapi.BadgeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]httpapi.BadgeEntry, 0, len(c.counts))
	for username, comments := range c.counts {
		level := core.BadgeLevel(comments)
		out = append(out, httpapi.BadgeEntry{
			Username: username,
			Comments: comments,
			Level:    level,
			Badge:    core.BadgeName(level),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Comments != out[j].Comments {
			return out[i].Comments > out[j].Comments
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func (c *Controller) stopDemoLocked() {
	if c.demoCancel != nil {
		c.demoCancel()
		c.demoCancel = nil
	}
}

func idSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) > 48 {
		return string(runes[:48])
	}
	return text
}
