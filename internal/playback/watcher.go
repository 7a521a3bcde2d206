package playback

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/you/gg-hub/internal/core"
)

type Config struct {
	PlaybackURL   string
	ProbeInterval time.Duration
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// Handler receives every status transition, including the initial
// loading emission.
type Handler func(core.StreamStatus)

// ProbeMetrics is satisfied by the API metrics bundle.
type ProbeMetrics interface {
	IncProbe(outcome string)
}

// Watcher polls the HLS manifest and reconciles the answers into a
// live/offline/error status stream. Transitions are edge-triggered:
// the handler fires only when the reconciled status changes.
type Watcher struct {
	cfg     Config
	http    *http.Client
	handler Handler
	metrics ProbeMetrics

	mu      sync.Mutex
	last    core.StreamStatus
	emitted bool

	kick chan struct{}
}

func NewWatcher(cfg Config, handler Handler) *Watcher {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Watcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		handler: handler,
		kick:    make(chan struct{}, 1),
	}
}

// SetMetrics attaches probe outcome counters. Safe to skip.
func (w *Watcher) SetMetrics(m ProbeMetrics) { w.metrics = m }

// SetHandler replaces the transition handler. Call before Run.
func (w *Watcher) SetHandler(h Handler) { w.handler = h }

// SetHTTPClient overrides the probe client, used by tests.
func (w *Watcher) SetHTTPClient(c *http.Client) { w.http = c }

// Status returns the last reconciled status.
func (w *Watcher) Status() core.StreamStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Kick forces the next probe to run immediately. Used by the manual
// retry control after a terminal error.
func (w *Watcher) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	liveURL := strings.TrimSpace(w.cfg.PlaybackURL)
	if liveURL == "" {
		w.update(core.StreamStatus{Err: "playback URL not configured"})
		<-ctx.Done()
		return ctx.Err()
	}
	if _, err := url.ParseRequestURI(liveURL); err != nil {
		return fmt.Errorf("playback: invalid playback URL: %w", err)
	}

	w.update(core.StreamStatus{IsLoading: true})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		status, retryable := w.probe(ctx, liveURL)
		if retryable {
			// one automatic retry before surfacing a transport error
			log.Printf("playback: probe failed (%s), retrying in %s", status.Err, w.cfg.RetryDelay)
			if !sleepContext(ctx, w.cfg.RetryDelay) {
				return ctx.Err()
			}
			status, _ = w.probe(ctx, liveURL)
		}
		w.update(status)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.ProbeInterval):
		case <-w.kick:
		}
	}
}

// probe fetches the manifest once. The second return reports whether
// the failure is a transport one worth an immediate retry.
func (w *Watcher) probe(ctx context.Context, liveURL string) (core.StreamStatus, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, liveURL, nil)
	if err != nil {
		return core.StreamStatus{Err: "invalid probe request: " + err.Error()}, false
	}
	req.Header.Set("User-Agent", "gg-hub/1.0")

	resp, err := w.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return core.StreamStatus{Err: "probe cancelled"}, false
		}
		terr := &core.TransportError{Op: "probe manifest", Err: err}
		w.count("error")
		return core.StreamStatus{Err: terr.Error()}, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			w.count("error")
			return core.StreamStatus{Err: "read manifest: " + err.Error()}, true
		}
		if !strings.HasPrefix(strings.TrimSpace(string(body)), "#EXTM3U") {
			// wrong payload entirely, retrying the same URL cannot help
			w.count("error")
			return core.StreamStatus{Err: core.ErrUnsupportedEnvironment.Error()}, false
		}
		w.count("live")
		return core.StreamStatus{IsLive: true}, false
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusGone:
		// channel exists but nothing is broadcasting
		w.count("offline")
		return core.StreamStatus{}, false
	default:
		w.count("error")
		return core.StreamStatus{Err: fmt.Sprintf("manifest status %d", resp.StatusCode)}, resp.StatusCode >= 500
	}
}

func (w *Watcher) update(status core.StreamStatus) {
	status.CheckedAt = time.Now().UTC()

	w.mu.Lock()
	changed := !w.emitted ||
		status.IsLive != w.last.IsLive ||
		status.IsLoading != w.last.IsLoading ||
		status.Err != w.last.Err
	w.last = status
	w.emitted = true
	handler := w.handler
	w.mu.Unlock()

	if changed && handler != nil {
		handler(status)
	}
}

func (w *Watcher) count(outcome string) {
	if w.metrics != nil {
		w.metrics.IncProbe(outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
