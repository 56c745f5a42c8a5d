package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/ingesttrace"
)

const schema = `CREATE TABLE IF NOT EXISTS entries (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL,
  ts INTEGER NOT NULL,
  channel TEXT NOT NULL DEFAULT '',
  user_login TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS entries_channel_id ON entries(channel, id) WHERE id != '';
CREATE INDEX IF NOT EXISTS entries_ts ON entries(ts);`

const defaultListLimit = 100

// SQLiteArchive keeps a durable copy of every entry emitted into the sink.
type SQLiteArchive struct {
	db      *sql.DB
	channel string
}

// Record is one archived row.
type Record struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id,omitempty"`
	Kind      string          `json:"kind"`
	Timestamp int64           `json:"ts"`
	Channel   string          `json:"channel,omitempty"`
	UserLogin string          `json:"user_login,omitempty"`
	Text      string          `json:"text"`
	Payload   json.RawMessage `json:"payload"`
}

// Query filters archive lookups.
type Query struct {
	Kinds     []string
	Users     []string
	Since     *time.Time
	Limit     int
	Ascending bool
}

func OpenSQLite(path, channel string) (*SQLiteArchive, error) {
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
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteArchive{db: db, channel: strings.ToLower(strings.TrimSpace(channel))}, nil
}

func (s *SQLiteArchive) Close() error { return s.db.Close() }

func (s *SQLiteArchive) Ping() error { return s.db.Ping() }

const insertEntry = `INSERT OR IGNORE INTO entries (id, kind, ts, channel, user_login, text, payload)
VALUES (?, ?, ?, ?, ?, ?, ?);`

func (s *SQLiteArchive) Write(e core.Entry, trace *ingesttrace.MessageTrace) error {
	args, err := s.rowArgs(e)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(insertEntry, args...); err != nil {
		return errors.Wrap(err, "insert entry")
	}
	if trace != nil {
		trace.IncCounter(ingesttrace.StageArchived)
	}
	return nil
}

// WriteBatch inserts all entries in one transaction.
func (s *SQLiteArchive) WriteBatch(batch []TracedEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin batch")
	}
	stmt, err := tx.Prepare(insertEntry)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, te := range batch {
		args, err := s.rowArgs(te.Entry)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(args...); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "insert entry")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit batch")
	}
	for _, te := range batch {
		if te.Trace != nil {
			te.Trace.IncCounter(ingesttrace.StageArchived)
		}
	}
	return nil
}

func (s *SQLiteArchive) rowArgs(e core.Entry) ([]any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encode entry")
	}
	meta := e.Meta()
	login := ""
	switch v := e.(type) {
	case core.ChatMessage:
		login = v.UserLogin
	case core.ClearedMessage:
		login = v.UserLogin
	case core.ClearChat:
		login = v.TargetLogin
	}
	return []any{meta.ID, e.Kind().String(), meta.Timestamp, s.channel, strings.ToLower(login), core.EntryText(e), string(payload)}, nil
}

func (s *SQLiteArchive) Count(ctx context.Context, q Query) (int64, error) {
	query, args := buildQuery(q, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteArchive) List(ctx context.Context, q Query) ([]Record, error) {
	query, args := buildQuery(q, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Kind, &rec.Timestamp, &rec.Channel, &rec.UserLogin, &rec.Text, &payload); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate entries")
	}
	return out, nil
}

func buildQuery(q Query, count bool) (string, []any) {
	var b strings.Builder
	if count {
		b.WriteString("SELECT COUNT(*) FROM entries")
	} else {
		b.WriteString("SELECT seq, id, kind, ts, channel, user_login, text, payload FROM entries")
	}

	var (
		conds []string
		args  []any
	)
	if len(q.Kinds) > 0 {
		marks := make([]string, 0, len(q.Kinds))
		for _, k := range q.Kinds {
			marks = append(marks, "?")
			args = append(args, k)
		}
		conds = append(conds, fmt.Sprintf("kind IN (%s)", strings.Join(marks, ",")))
	}
	if len(q.Users) > 0 {
		ors := make([]string, 0, len(q.Users))
		for _, u := range q.Users {
			ors = append(ors, "user_login LIKE '%' || ? || '%'")
			args = append(args, strings.ToLower(u))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if q.Since != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	if !count {
		if q.Ascending {
			b.WriteString(" ORDER BY seq ASC")
		} else {
			b.WriteString(" ORDER BY seq DESC")
		}
		limit := q.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	b.WriteString(";")
	return b.String(), args
}
