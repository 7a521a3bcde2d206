package store

import (
	"context"

	"github.com/you/gg-hub/internal/core"
)

type broadcaster interface {
	Broadcast(core.ChatMessage)
}

// WithBroadcast fans a successful save out to the API's live feed so
// SSE and WS subscribers see it without polling.
type WithBroadcast struct {
	*SQLiteStore
	api broadcaster
}

func WithAPI(base *SQLiteStore, api broadcaster) *WithBroadcast {
	return &WithBroadcast{SQLiteStore: base, api: api}
}

func (w *WithBroadcast) SaveMessage(ctx context.Context, msg core.ChatMessage, streamID string) error {
	if err := w.SQLiteStore.SaveMessage(ctx, msg, streamID); err != nil {
		return err
	}
	if w.api != nil {
		w.api.Broadcast(msg)
	}
	return nil
}
