package playback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/you/gg-hub/internal/core"
)

func TestProbeLiveManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n"))
	}))
	defer srv.Close()

	w := NewWatcher(Config{PlaybackURL: srv.URL}, nil)
	status, retryable := w.probe(context.Background(), srv.URL)
	if !status.IsLive {
		t.Fatalf("expected live status, got %+v", status)
	}
	if retryable {
		t.Fatalf("live probe should not be retryable")
	}
}

func TestProbeOfflineStatusCodes(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		status, retryable := NewWatcher(Config{PlaybackURL: srv.URL}, nil).probe(context.Background(), srv.URL)
		srv.Close()
		if status.IsLive || status.Err != "" {
			t.Fatalf("code %d: expected clean offline, got %+v", code, status)
		}
		if retryable {
			t.Fatalf("code %d: offline should not be retryable", code)
		}
	}
}

func TestProbeUnsupportedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not a manifest</html>"))
	}))
	defer srv.Close()

	status, retryable := NewWatcher(Config{PlaybackURL: srv.URL}, nil).probe(context.Background(), srv.URL)
	if status.Err != core.ErrUnsupportedEnvironment.Error() {
		t.Fatalf("expected unsupported environment error, got %q", status.Err)
	}
	if retryable {
		t.Fatalf("unsupported payload is terminal, not retryable")
	}
}

func TestProbeNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // guaranteed refused port

	status, retryable := NewWatcher(Config{PlaybackURL: srv.URL}, nil).probe(context.Background(), srv.URL)
	if status.Err == "" {
		t.Fatalf("expected error status")
	}
	if !retryable {
		t.Fatalf("connection failures should be retryable")
	}
}

func TestRunEmitsTransitions(t *testing.T) {
	var mu sync.Mutex
	live := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if live {
			_, _ = w.Write([]byte("#EXTM3U\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	statusCh := make(chan core.StreamStatus, 16)
	w := NewWatcher(Config{
		PlaybackURL:   srv.URL,
		ProbeInterval: 20 * time.Millisecond,
		RetryDelay:    10 * time.Millisecond,
	}, func(st core.StreamStatus) { statusCh <- st })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	first := waitStatus(t, statusCh)
	if !first.IsLoading {
		t.Fatalf("expected initial loading emission, got %+v", first)
	}
	offline := waitStatus(t, statusCh)
	if offline.IsLive || offline.IsLoading {
		t.Fatalf("expected offline after first probe, got %+v", offline)
	}

	mu.Lock()
	live = true
	mu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-statusCh:
			if st.IsLive {
				return
			}
		case <-deadline:
			t.Fatalf("never observed live transition")
		}
	}
}

func waitStatus(t *testing.T, ch chan core.StreamStatus) core.StreamStatus {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status emission")
		return core.StreamStatus{}
	}
}

func TestControlsAutoplayOnLive(t *testing.T) {
	c := NewControls(nil)
	if st := c.State(); st.Playing || !st.Muted {
		t.Fatalf("expected paused and muted to start, got %+v", st)
	}

	c.HandleStatus(core.StreamStatus{IsLive: true})
	if st := c.State(); !st.Playing || !st.Live {
		t.Fatalf("expected autoplay on live transition, got %+v", st)
	}

	c.HandleStatus(core.StreamStatus{})
	if st := c.State(); st.Playing || st.Live {
		t.Fatalf("expected stop on offline transition, got %+v", st)
	}
}

func TestControlsVolumeValidation(t *testing.T) {
	c := NewControls(nil)
	if err := c.SetVolume(1.5); err == nil {
		t.Fatalf("expected validation error for volume > 1")
	}
	if err := c.SetVolume(-0.1); err == nil {
		t.Fatalf("expected validation error for negative volume")
	}
	if err := c.SetVolume(0.4); err != nil {
		t.Fatalf("valid volume rejected: %v", err)
	}
	st := c.State()
	if st.Volume != 0.4 {
		t.Fatalf("volume not applied: %v", st.Volume)
	}
	if st.Muted {
		t.Fatalf("raising volume should unmute")
	}
}

func TestControlsFullscreenToggle(t *testing.T) {
	c := NewControls(nil)
	if !c.ToggleFullscreen() {
		t.Fatalf("first toggle should enter fullscreen")
	}
	if c.ToggleFullscreen() {
		t.Fatalf("second toggle should exit fullscreen")
	}
}

func TestControlsPlayRequiresLive(t *testing.T) {
	c := NewControls(nil)
	c.Play()
	if c.State().Playing {
		t.Fatalf("play without a live stream should be a no-op")
	}
}
