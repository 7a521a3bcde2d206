package store

import (
	"context"
	"log"
	"time"
)

// RunJanitor deletes expired rows on a fixed interval until the context
// is cancelled. One pass runs immediately at startup so a long-stopped
// hub does not serve week-old backlog.
func (s *SQLiteStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	purge := func() {
		n, err := s.PurgeExpired(ctx)
		if err != nil {
			log.Printf("store: purge failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("store: purged %d expired messages", n)
		}
	}

	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}
