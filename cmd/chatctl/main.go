package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/httpapi"
	"github.com/you/gg-hub/internal/session"
	"github.com/you/gg-hub/internal/store"
)

// backfillLine is one JSONL record of an imported chat transcript.
type backfillLine struct {
	ID       string    `json:"id,omitempty"`
	Ts       time.Time `json:"ts,omitempty"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Badges   []string  `json:"badges,omitempty"`
	IsSystem bool      `json:"is_system,omitempty"`
	Session  string    `json:"session_id,omitempty"`
}

func main() {
	var (
		dbPath    string
		streamID  string
		sessionID string
		backfill  string
		listQuery string
		doCount   bool
		doPurge   bool
		batchSize int
		flushMS   int
		ttlDays   int
	)

	flag.StringVar(&dbPath, "db", "gghub.db", "SQLite database path")
	flag.StringVar(&streamID, "stream", "global-gaming-live", "Stream identifier")
	flag.StringVar(&sessionID, "session", "", "Session to tag backfilled messages with (default: a fresh session id)")
	flag.StringVar(&backfill, "backfill", "", "JSONL transcript file to import")
	flag.StringVar(&listQuery, "list", "", "List messages matching a query string (e.g. \"session=...&limit=20\"); \"all\" lists everything")
	flag.BoolVar(&doCount, "count", false, "Print the message count for the stream")
	flag.BoolVar(&doPurge, "purge", false, "Delete expired messages and exit")
	flag.IntVar(&batchSize, "batch", 50, "Backfill insert batch size")
	flag.IntVar(&flushMS, "flush-ms", 500, "Backfill flush interval in milliseconds")
	flag.IntVar(&ttlDays, "ttl-days", 7, "Message retention applied to imported rows")
	flag.Parse()

	db, err := store.Open(dbPath, time.Duration(ttlDays)*24*time.Hour)
	if err != nil {
		log.Fatalf("chatctl: open sqlite: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("chatctl: ping: %v", err)
	}

	ctx := context.Background()
	ran := false

	if backfill != "" {
		ran = true
		if sessionID == "" {
			sessionID = session.NewSessionID(time.Now())
			log.Printf("chatctl: tagging imported messages with session %s", sessionID)
		}
		n, err := runBackfill(ctx, db, backfill, streamID, sessionID, batchSize, time.Duration(flushMS)*time.Millisecond)
		if err != nil {
			log.Fatalf("chatctl: backfill: %v", err)
		}
		log.Printf("chatctl: imported %d messages into %s", n, dbPath)
	}

	if doPurge {
		ran = true
		n, err := db.PurgeExpired(ctx)
		if err != nil {
			log.Fatalf("chatctl: purge: %v", err)
		}
		log.Printf("chatctl: purged %d expired messages", n)
	}

	if doCount {
		ran = true
		n, err := db.CountMessages(ctx, httpapi.Filters{StreamID: streamID})
		if err != nil {
			log.Fatalf("chatctl: count: %v", err)
		}
		fmt.Println(n)
	}

	if listQuery != "" {
		ran = true
		if err := runList(ctx, db, streamID, listQuery); err != nil {
			log.Fatalf("chatctl: list: %v", err)
		}
	}

	if !ran {
		flag.Usage()
		os.Exit(2)
	}
}

func runBackfill(ctx context.Context, db *store.SQLiteStore, path, streamID, sessionID string, batchSize int, flushInterval time.Duration) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	saver := store.NewBufferedSaver(db, streamID, store.BufferedOptions{
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
	})

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var line backfillLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return count, fmt.Errorf("line %d: %w", count+1, err)
		}
		if line.Username == "" || line.Text == "" {
			return count, fmt.Errorf("line %d: username and text required", count+1)
		}
		if line.Ts.IsZero() {
			line.Ts = time.Now().UTC()
		}
		if line.ID == "" {
			line.ID = "import_" + line.Ts.Format("20060102T150405.000000000")
		}
		session := line.Session
		if session == "" {
			session = sessionID
		}

		msg := core.ChatMessage{
			ID:        line.ID,
			Ts:        line.Ts,
			Username:  line.Username,
			Text:      line.Text,
			Badges:    line.Badges,
			IsSystem:  line.IsSystem,
			SessionID: session,
		}
		if err := saver.Save(msg); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	if err := saver.Close(); err != nil {
		return count, err
	}
	return count, nil
}

func runList(ctx context.Context, db *store.SQLiteStore, streamID, query string) error {
	if query == "all" {
		query = ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return err
	}
	filters, err := httpapi.ParseFilters(values)
	if err != nil {
		return err
	}
	filters.StreamID = streamID

	msgs, err := db.ListMessages(ctx, filters)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, msg := range msgs {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}
