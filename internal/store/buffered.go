package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/you/gg-hub/internal/core"
)

// Saver is the write half of the message store.
type Saver interface {
	SaveMessage(ctx context.Context, msg core.ChatMessage, streamID string) error
}

// BufferedSaver coalesces saves into batches. Bulk producers (backfill
// tooling, the demo feed) get one insert burst per batch instead of a
// write per message. A flush error is surfaced on the next Save call.
type BufferedSaver struct {
	base          Saver
	streamID      string
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []core.ChatMessage
	timer   *time.Timer
	closed  bool
	lastErr error
}

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func NewBufferedSaver(base Saver, streamID string, opts BufferedOptions) *BufferedSaver {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &BufferedSaver{
		base:          base,
		streamID:      streamID,
		batchSize:     batch,
		flushInterval: opts.FlushInterval,
	}
}

func (b *BufferedSaver) Save(msg core.ChatMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("buffered saver closed")
	}

	pendingErr := b.lastErr
	b.lastErr = nil

	b.buffer = append(b.buffer, msg)
	if len(b.buffer) == 1 && b.flushInterval > 0 {
		b.startTimerLocked()
	}

	if len(b.buffer) < b.batchSize {
		b.mu.Unlock()
		return pendingErr
	}

	msgs := append([]core.ChatMessage(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.stopTimerLocked()
	b.mu.Unlock()

	if err := b.saveAll(msgs); err != nil {
		return err
	}
	return pendingErr
}

func (b *BufferedSaver) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	msgs := append([]core.ChatMessage(nil), b.buffer...)
	b.buffer = nil
	pendingErr := b.lastErr
	b.lastErr = nil
	b.mu.Unlock()

	if len(msgs) > 0 {
		if err := b.saveAll(msgs); err != nil {
			return err
		}
	}
	return pendingErr
}

func (b *BufferedSaver) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buffer) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	msgs := append([]core.ChatMessage(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.timer = nil
	b.mu.Unlock()

	if err := b.saveAll(msgs); err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
}

func (b *BufferedSaver) startTimerLocked() {
	if b.flushInterval <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *BufferedSaver) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *BufferedSaver) saveAll(msgs []core.ChatMessage) error {
	ctx := context.Background()
	for _, msg := range msgs {
		if err := b.base.SaveMessage(ctx, msg, b.streamID); err != nil {
			return err
		}
	}
	return nil
}
