package core

import "time"

// ChatMessage is the unified structure written to SQLite and served
// over the HTTP/SSE/WS surfaces.
type ChatMessage struct {
	ID           string    // composed message ID (msg_/user_/demo_/welcome_ prefixed)
	Ts           time.Time // message timestamp
	Username     string
	Text         string
	Badges       []string // e.g. ["mod"], ["sub"]
	IsSystem     bool     // session banner and other announcer messages
	IsOwnMessage bool     // authored through this hub rather than replayed
	SessionID    string   // broadcast session the message belongs to
}

// Type buckets a message for storage and metrics.
func (m ChatMessage) Type() string {
	switch {
	case m.IsSystem:
		return "system"
	case m.IsOwnMessage:
		return "user"
	default:
		return "viewer"
	}
}

// StreamStatus is the reconciled playback state of the watched channel.
type StreamStatus struct {
	IsLive    bool
	IsLoading bool
	Err       string // human-readable; empty when healthy
	CheckedAt time.Time
}
