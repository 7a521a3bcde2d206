package playback

import (
	"fmt"
	"sync"

	"github.com/you/gg-hub/internal/core"
)

// ControlsState is the serializable snapshot of the viewer controls
// merged with the reconciled stream status.
type ControlsState struct {
	Playing    bool    `json:"playing"`
	Muted      bool    `json:"muted"`
	Volume     float64 `json:"volume"`
	Fullscreen bool    `json:"fullscreen"`
	Live       bool    `json:"live"`
	Loading    bool    `json:"loading"`
	Error      string  `json:"error,omitempty"`
}

// Controls models the player surface. Playback starts muted so the
// autoplay that follows a live transition is always permitted.
type Controls struct {
	watcher *Watcher

	mu         sync.Mutex
	playing    bool
	muted      bool
	volume     float64
	fullscreen bool
	status     core.StreamStatus
}

func NewControls(watcher *Watcher) *Controls {
	return &Controls{
		watcher: watcher,
		muted:   true,
		volume:  1.0,
	}
}

// HandleStatus applies a reconciled status transition: going live
// autoplays, dropping off stops playback.
func (c *Controls) HandleStatus(status core.StreamStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasLive := c.status.IsLive
	c.status = status
	if status.IsLive && !wasLive {
		c.playing = true
	}
	if !status.IsLive {
		c.playing = false
	}
}

func (c *Controls) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsLive {
		c.playing = true
	}
}

func (c *Controls) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
}

func (c *Controls) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return &core.ValidationError{Reason: fmt.Sprintf("volume %v out of range [0,1]", v)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
	if v > 0 {
		c.muted = false
	}
	return nil
}

func (c *Controls) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// ToggleFullscreen flips the fullscreen flag and returns the new value.
func (c *Controls) ToggleFullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = !c.fullscreen
	return c.fullscreen
}

// Retry forces an immediate probe after a terminal error.
func (c *Controls) Retry() {
	if c.watcher != nil {
		c.watcher.Kick()
	}
}

func (c *Controls) State() ControlsState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControlsState{
		Playing:    c.playing,
		Muted:      c.muted,
		Volume:     c.volume,
		Fullscreen: c.fullscreen,
		Live:       c.status.IsLive,
		Loading:    c.status.IsLoading,
		Error:      c.status.Err,
	}
}
