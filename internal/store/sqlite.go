package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/gg-hub/internal/core"
	"github.com/you/gg-hub/internal/httpapi"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
  stream_id TEXT NOT NULL,
  id TEXT NOT NULL,
  ts TEXT NOT NULL,
  username TEXT NOT NULL,
  text TEXT NOT NULL,
  badges_json TEXT NOT NULL DEFAULT '[]',
  is_system INTEGER NOT NULL DEFAULT 0,
  is_own INTEGER NOT NULL DEFAULT 0,
  session_id TEXT NOT NULL DEFAULT '',
  message_type TEXT NOT NULL DEFAULT 'viewer',
  content_length INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT '',
  expires_at TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (stream_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_stream_ts ON messages (stream_id, ts);
CREATE INDEX IF NOT EXISTS idx_messages_expiry ON messages (expires_at);`

const defaultListLimit = 100

// SQLiteStore persists chat messages with a row-level expiry applied by
// the janitor. Reads over-fetch by stream partition and filter the
// session in memory, which keeps hot sessions cheap to serve.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

func Open(path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplyPragmas(context.Background(), db)
	return &SQLiteStore{db: db, ttl: ttl}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// transportErr classifies a database failure so callers can tell
// retryable I/O trouble apart from their own bad input.
func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &core.TransportError{Op: op, Err: err}
}

func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func (s *SQLiteStore) String() string {
	return fmt.Sprintf("SQLiteStore{%p}", s.db)
}

// NewMessageID mints a message identifier: msg_<unix ms>_<suffix>.
func NewMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), suffix)
}

// SaveMessage inserts the message under the stream partition, minting an
// ID when the caller left it empty. Duplicate IDs within a stream are
// ignored so replays stay idempotent. Expiry counts from write time, not
// the message timestamp, so backfilled history gets a full TTL.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg core.ChatMessage, streamID string) error {
	const q = `INSERT INTO messages (stream_id, id, ts, username, text, badges_json, is_system, is_own, session_id, message_type, content_length, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(stream_id, id) DO NOTHING;`
	now := time.Now().UTC()
	if msg.Ts.IsZero() {
		msg.Ts = now
	}
	if msg.ID == "" {
		msg.ID = NewMessageID(msg.Ts)
	}
	expires := ""
	if s.ttl > 0 {
		expires = now.Add(s.ttl).Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, q,
		streamID, msg.ID, msg.Ts.UTC().Format(time.RFC3339Nano), msg.Username, msg.Text,
		marshalBadges(msg.Badges), boolInt(msg.IsSystem), boolInt(msg.IsOwnMessage),
		msg.SessionID, msg.Type(), len([]rune(msg.Text)), now.Format(time.RFC3339Nano), expires)
	return transportErr("insert message", err)
}

// SessionMessages returns up to limit messages for one session, oldest
// first. The query over-fetches twice the limit from the stream
// partition newest-first, then narrows to the session.
func (s *SQLiteStore) SessionMessages(ctx context.Context, streamID, sessionID string, limit int) ([]core.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const q = `SELECT id, ts, username, text, badges_json, is_system, is_own, session_id
FROM messages WHERE stream_id = ? ORDER BY ts DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, streamID, limit*2)
	if err != nil {
		return nil, transportErr("query session messages", err)
	}
	defer rows.Close()

	var out []core.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if msg.SessionID != sessionID {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("iterate session messages", err)
	}

	// newest-first from the index, callers want chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// StreamSessions lists the most recent sessions of a stream, newest
// first, scanning at most 10x limit rows.
func (s *SQLiteStore) StreamSessions(ctx context.Context, streamID string, limit int) ([]httpapi.SessionInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `SELECT ts, session_id FROM messages WHERE stream_id = ? AND session_id != '' ORDER BY ts DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, streamID, limit*10)
	if err != nil {
		return nil, transportErr("query stream sessions", err)
	}
	defer rows.Close()

	byID := make(map[string]*httpapi.SessionInfo)
	var order []string
	for rows.Next() {
		var rawTs, sessionID string
		if err := rows.Scan(&rawTs, &sessionID); err != nil {
			return nil, transportErr("scan session row", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, rawTs)
		info, ok := byID[sessionID]
		if !ok {
			if len(byID) == limit {
				continue
			}
			info = &httpapi.SessionInfo{SessionID: sessionID, FirstSeen: ts, LastSeen: ts}
			byID[sessionID] = info
			order = append(order, sessionID)
		}
		if ts.Before(info.FirstSeen) {
			info.FirstSeen = ts
		}
		if ts.After(info.LastSeen) {
			info.LastSeen = ts
		}
		info.MessageCount++
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("iterate stream sessions", err)
	}

	out := make([]httpapi.SessionInfo, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// PurgeExpired deletes rows whose expiry has passed. Returns the number
// of rows removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE expires_at != '' AND expires_at <= ?;`, now)
	if err != nil {
		return 0, transportErr("purge expired", err)
	}
	n, err := res.RowsAffected()
	return n, transportErr("rows affected", err)
}

func (s *SQLiteStore) CountMessages(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildMessageQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, transportErr("count messages", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, filters httpapi.Filters) ([]core.ChatMessage, error) {
	query, args := buildMessageQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transportErr("list messages", err)
	}
	defer rows.Close()

	var out []core.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("iterate messages", err)
	}
	return out, nil
}

func scanMessage(rows *sql.Rows) (core.ChatMessage, error) {
	var (
		msg        core.ChatMessage
		ts         string
		badgesJSON string
		isSystem   int
		isOwn      int
	)
	if err := rows.Scan(&msg.ID, &ts, &msg.Username, &msg.Text, &badgesJSON, &isSystem, &isOwn, &msg.SessionID); err != nil {
		return core.ChatMessage{}, transportErr("scan message", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		msg.Ts = t
	}
	msg.Badges = unmarshalBadges(badgesJSON)
	msg.IsSystem = isSystem != 0
	msg.IsOwnMessage = isOwn != 0
	return msg, nil
}

func buildMessageQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM messages")
	} else {
		builder.WriteString("SELECT id, ts, username, text, badges_json, is_system, is_own, session_id FROM messages")
	}

	var (
		conditions []string
		args       []any
	)

	if filters.StreamID != "" {
		conditions = append(conditions, "stream_id = ?")
		args = append(args, filters.StreamID)
	}

	if filters.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filters.SessionID)
	}

	if len(filters.Types) > 0 {
		placeholders := make([]string, 0, len(filters.Types))
		for _, t := range filters.Types {
			placeholders = append(placeholders, "?")
			args = append(args, t)
		}
		conditions = append(conditions, fmt.Sprintf("message_type IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Usernames) > 0 {
		ors := make([]string, 0, len(filters.Usernames))
		for _, u := range filters.Usernames {
			ors = append(ors, "LOWER(username) LIKE '%' || ? || '%'")
			args = append(args, u)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY ts ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}

func marshalBadges(badges []string) string {
	if len(badges) == 0 {
		return "[]"
	}
	data, err := json.Marshal(badges)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalBadges(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
