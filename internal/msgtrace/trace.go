package msgtrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage represents a pipeline stage used for tracking message delivery.
type Stage string

const (
	StageAccepted  Stage = "accepted"
	StageAppended  Stage = "appended_to_view"
	StagePersisted Stage = "persisted"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped message with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// MessageTrace captures trace metadata for a message from acceptance to
// persistence.
type MessageTrace struct {
	SessionID string
	User      string
	Snippet   string
	TraceID   string

	mu       sync.Mutex
	counters map[Stage]int64
}

// New constructs a trace for an accepted message and seeds the accepted
// counter.
func New(sessionID, user, snippet string) *MessageTrace {
	trace := &MessageTrace{
		SessionID: sessionID,
		User:      user,
		Snippet:   snippet,
		TraceID:   computeTraceID(sessionID, user, snippet),
		counters:  make(map[Stage]int64),
	}

	trace.counters[StageAccepted] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *MessageTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *MessageTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"session", t.SessionID,
		"user", t.User,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *MessageTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(sessionID, user, snippet string) string {
	digest := sha256.Sum256([]byte(sessionID + "\x1f" + user + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
