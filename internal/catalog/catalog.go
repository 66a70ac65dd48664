// Package catalog keeps an index of finished recordings in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

var ErrNotFound = errors.New("recording not found")

// Entry is one finished recording.
type Entry struct {
	SessionID string
	Path      string
	Variant   string
	Width     int
	Height    int
	BitRate   int
	FrameRate int
	SizeBytes int64
	StartedAt time.Time
	StoppedAt time.Time
}

// Duration is the wall time the recording was live.
func (e Entry) Duration() time.Duration {
	return e.StoppedAt.Sub(e.StartedAt)
}

// Store persists entries.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS recordings (
		session_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		variant TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		bit_rate INTEGER NOT NULL,
		frame_rate INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		stopped_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_stopped_at ON recordings(stopped_at);
	`)
	return err
}

// Add records e, replacing an entry with the same session id. SizeBytes is
// read from disk when zero.
func (s *Store) Add(ctx context.Context, e Entry) error {
	if e.SizeBytes == 0 {
		if info, err := os.Stat(e.Path); err == nil {
			e.SizeBytes = info.Size()
		}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO recordings (session_id, path, variant, width, height, bit_rate, frame_rate, size_bytes, started_at, stopped_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		path = excluded.path,
		size_bytes = excluded.size_bytes,
		stopped_at = excluded.stopped_at
	`, e.SessionID, e.Path, e.Variant, e.Width, e.Height, e.BitRate, e.FrameRate, e.SizeBytes,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.StoppedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add recording: %w", err)
	}
	return nil
}

// List returns the newest entries first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT session_id, path, variant, width, height, bit_rate, frame_rate, size_bytes, started_at, stopped_at
	FROM recordings
	ORDER BY stopped_at DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the entry for sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT session_id, path, variant, width, height, bit_rate, frame_rate, size_bytes, started_at, stopped_at
	FROM recordings WHERE session_id = ?
	`, sessionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return e, err
}

// Prune removes entries whose file no longer exists and reports how many
// were removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	entries, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if _, err := os.Stat(e.Path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE session_id = ?`, e.SessionID); err != nil {
			return removed, fmt.Errorf("prune %s: %w", e.SessionID, err)
		}
		removed++
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var started, stopped string
	if err := row.Scan(&e.SessionID, &e.Path, &e.Variant, &e.Width, &e.Height, &e.BitRate, &e.FrameRate, &e.SizeBytes, &started, &stopped); err != nil {
		return Entry{}, err
	}
	var err error
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Entry{}, fmt.Errorf("parse started_at: %w", err)
	}
	if e.StoppedAt, err = time.Parse(time.RFC3339Nano, stopped); err != nil {
		return Entry{}, fmt.Errorf("parse stopped_at: %w", err)
	}
	return e, nil
}
