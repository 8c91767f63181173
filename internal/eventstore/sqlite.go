package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS build_events (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	build_id TEXT    NOT NULL,
	type     TEXT    NOT NULL,
	at_ms    INTEGER NOT NULL,
	payload  BLOB    NOT NULL,
	labels   TEXT
);
CREATE INDEX IF NOT EXISTS build_events_build_id ON build_events(build_id);
CREATE INDEX IF NOT EXISTS build_events_at ON build_events(at_ms);
`

const selectEntries = "SELECT seq, build_id, type, at_ms, payload, labels FROM build_events"

// SQLiteStore keeps the event log in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the log at dbPath; ":memory:" gives a
// throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ErrDatabaseOpenFailed.WithCause(err).WithContext("path", dbPath)
	}
	// A single connection serializes writers and keeps ":memory:" one database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ErrInitializeSchemaFailed.WithCause(err).WithContext("path", dbPath)
	}
	return &SQLiteStore{db: db}, nil
}

// Append stores e. At is truncated to milliseconds.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.Truncate(time.Millisecond)

	var labels []byte
	if len(e.Labels) > 0 {
		var err error
		if labels, err = json.Marshal(e.Labels); err != nil {
			return Entry{}, ErrMarshalPayloadFailed.WithCause(err).WithContext("build_id", e.BuildID)
		}
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO build_events (build_id, type, at_ms, payload, labels) VALUES (?, ?, ?, ?, ?)",
		e.BuildID, e.Type, e.At.UnixMilli(), e.Payload, labels)
	if err != nil {
		return Entry{}, ErrEventAppendFailed.WithCause(err).
			WithContext("build_id", e.BuildID).
			WithContext("event_type", e.Type)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, ErrEventAppendFailed.WithCause(err).WithContext("build_id", e.BuildID)
	}
	return e, nil
}

func (s *SQLiteStore) GetByBuildID(ctx context.Context, buildID string) ([]Entry, error) {
	return s.query(ctx, selectEntries+" WHERE build_id = ? ORDER BY seq", buildID)
}

func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Entry, error) {
	return s.query(ctx, selectEntries+" WHERE at_ms BETWEEN ? AND ? ORDER BY seq", start.UnixMilli(), end.UnixMilli())
}

func (s *SQLiteStore) After(ctx context.Context, seq int64) ([]Entry, error) {
	return s.query(ctx, selectEntries+" WHERE seq > ? ORDER BY seq", seq)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ErrEventQueryFailed.WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			atMS   int64
			labels []byte
		)
		if err := rows.Scan(&e.Seq, &e.BuildID, &e.Type, &atMS, &e.Payload, &labels); err != nil {
			return nil, ErrEventScanFailed.WithCause(err)
		}
		e.At = time.UnixMilli(atMS)
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &e.Labels); err != nil {
				return nil, ErrUnmarshalPayloadFailed.WithCause(err).WithContext("seq", e.Seq)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryEventStore, "iterate event rows").Build()
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
