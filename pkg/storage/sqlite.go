package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	state            TEXT NOT NULL,
	started_at       INTEGER NOT NULL,
	ended_at         INTEGER,
	duration_seconds REAL NOT NULL,
	step_count       INTEGER NOT NULL,
	dropped_events   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS steps (
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	step_id        INTEGER NOT NULL,
	step_type      TEXT NOT NULL,
	ts             INTEGER NOT NULL,
	description    TEXT NOT NULL,
	ocr_confidence REAL NOT NULL,
	monitor_id     INTEGER,
	percent_x      REAL,
	percent_y      REAL,
	clamped        INTEGER NOT NULL DEFAULT 0,
	screenshot     TEXT,
	PRIMARY KEY (session_id, step_id)
);
CREATE INDEX IF NOT EXISTS sessions_started ON sessions(started_at DESC);
`

// Summary is one indexed tutorial.
type Summary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	State         string     `json:"state"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Duration      float64    `json:"duration_seconds"`
	StepCount     int        `json:"step_count"`
	DroppedEvents uint64     `json:"dropped_events"`
}

// SQLiteIndex keeps a queryable index of saved tutorials.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the index database at path.
func OpenIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("index path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close releases the database.
func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

// Save upserts the session row and replaces its steps.
func (x *SQLiteIndex) Save(ctx context.Context, session tutorial.Session, _ FrameSource) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	meta := session.Metadata()
	var ended sql.NullInt64
	if session.EndedAt != nil {
		ended = sql.NullInt64{Int64: session.EndedAt.UnixMilli(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, state, started_at, ended_at, duration_seconds, step_count, dropped_events)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			state = excluded.state,
			ended_at = excluded.ended_at,
			duration_seconds = excluded.duration_seconds,
			step_count = excluded.step_count,
			dropped_events = excluded.dropped_events
	`, session.ID, session.Title, string(session.State), session.StartedAt.UnixMilli(), ended,
		meta.Duration, meta.StepCount, int64(session.DroppedEvents)); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear indexed steps: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO steps (session_id, step_id, step_type, ts, description, ocr_confidence, monitor_id, percent_x, percent_y, clamped, screenshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare step insert: %w", err)
	}
	defer stmt.Close()
	for _, step := range session.Steps {
		var monitor sql.NullInt64
		var px, py sql.NullFloat64
		if c := step.Coordinates; c != nil {
			monitor = sql.NullInt64{Int64: int64(c.MonitorID), Valid: true}
			px = sql.NullFloat64{Float64: c.PercentX, Valid: true}
			py = sql.NullFloat64{Float64: c.PercentY, Valid: true}
		}
		var shot sql.NullString
		if step.Screenshot != "" {
			shot = sql.NullString{String: step.Screenshot, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, session.ID, step.ID, string(step.Type), step.Timestamp.UnixMilli(),
			step.Description, step.OCRConfidence, monitor, px, py, step.Clamped, shot); err != nil {
			return fmt.Errorf("index step %d: %w", step.ID, err)
		}
	}
	return tx.Commit()
}

// List returns indexed tutorials, newest first.
func (x *SQLiteIndex) List(ctx context.Context) ([]Summary, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, title, state, started_at, ended_at, duration_seconds, step_count, dropped_events
		FROM sessions
		ORDER BY started_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tutorials: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s       Summary
			started int64
			ended   sql.NullInt64
			dropped int64
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.State, &started, &ended, &s.Duration, &s.StepCount, &dropped); err != nil {
			return nil, fmt.Errorf("scan tutorial: %w", err)
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			t := time.UnixMilli(ended.Int64).UTC()
			s.EndedAt = &t
		}
		s.DroppedEvents = uint64(dropped)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Steps returns the indexed steps of a session in step order.
func (x *SQLiteIndex) Steps(ctx context.Context, sessionID string) ([]tutorial.Step, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT step_id, step_type, ts, description, ocr_confidence, monitor_id, percent_x, percent_y, clamped, screenshot
		FROM steps
		WHERE session_id = ?
		ORDER BY step_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []tutorial.Step
	for rows.Next() {
		var (
			step    tutorial.Step
			kind    string
			ts      int64
			monitor sql.NullInt64
			px, py  sql.NullFloat64
			shot    sql.NullString
		)
		if err := rows.Scan(&step.ID, &kind, &ts, &step.Description, &step.OCRConfidence, &monitor, &px, &py, &step.Clamped, &shot); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Type = tutorial.StepType(kind)
		step.Timestamp = time.UnixMilli(ts).UTC()
		if monitor.Valid {
			step.Coordinates = &coords.Info{
				MonitorID: int(monitor.Int64),
				PercentX:  px.Float64,
				PercentY:  py.Float64,
				Clamped:   step.Clamped,
			}
		}
		step.Screenshot = shot.String
		out = append(out, step)
	}
	return out, rows.Err()
}

// Delete removes a session and its steps from the index.
func (x *SQLiteIndex) Delete(ctx context.Context, sessionID string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete indexed steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete indexed session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return tx.Commit()
}

// DeleteStep removes one indexed step and refreshes the session's step
// count. Other step ids are untouched.
func (x *SQLiteIndex) DeleteStep(ctx context.Context, sessionID string, stepID int64) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE session_id = ? AND step_id = ?`, sessionID, stepID)
	if err != nil {
		return fmt.Errorf("delete indexed step: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("lookup indexed session: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return fmt.Errorf("%w: %d", ErrStepNotFound, stepID)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET step_count = (SELECT COUNT(*) FROM steps WHERE session_id = ?)
		WHERE id = ?
	`, sessionID, sessionID); err != nil {
		return fmt.Errorf("update step count: %w", err)
	}
	return tx.Commit()
}
