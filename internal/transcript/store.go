// Package transcript keeps an optional SQLite log of completed turns for
// later inspection. Nothing read from it is ever fed back into a prompt.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// StageRecord is one generation within a turn.
type StageRecord struct {
	Stage           string        `json:"stage"`
	Input           string        `json:"input"`
	Output          string        `json:"output"`
	Kind            string        `json:"kind"`
	PromptTokens    int           `json:"prompt_tokens"`
	GeneratedTokens int           `json:"generated_tokens"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

// TurnRecord is one stored turn.
type TurnRecord struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Final     string        `json:"final"`
	Glossary  string        `json:"glossary,omitempty"`
	Degraded  bool          `json:"degraded"`
	Stages    []StageRecord `json:"stages"`
}

// Store wraps a SQLite database holding turn records.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the transcript database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "pivot_transcript.db"
	}
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure transcript directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript store: %w", err)
	}
	if err := bootstrap(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(db *sql.DB) error {
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		return fmt.Errorf("failed to configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			final TEXT NOT NULL,
			glossary TEXT NOT NULL DEFAULT '',
			degraded INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS stages (
			turn_id TEXT NOT NULL REFERENCES turns(id),
			seq INTEGER NOT NULL,
			stage TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			kind TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			generated_tokens INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (turn_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`); err != nil {
		return fmt.Errorf("failed to create transcript tables: %w", err)
	}
	return nil
}

// Record stores one turn and its stages atomically.
func (s *Store) Record(ctx context.Context, rec TurnRecord) error {
	if s == nil || s.db == nil {
		return errors.New("transcript store is not initialized")
	}
	if rec.ID == "" {
		return errors.New("turn id must not be empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transcript write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, created_at, final, glossary, degraded) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UnixMilli(), rec.Final, rec.Glossary, boolToInt(rec.Degraded),
	); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	for i, st := range rec.Stages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stages (turn_id, seq, stage, input, output, kind, prompt_tokens, generated_tokens, elapsed_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, st.Stage, st.Input, st.Output, st.Kind, st.PromptTokens, st.GeneratedTokens, st.Elapsed.Milliseconds(),
		); err != nil {
			return fmt.Errorf("failed to insert stage %s: %w", st.Stage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript write: %w", err)
	}
	return nil
}

// Recent returns up to limit turns, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]TurnRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("transcript store is not initialized")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, final, glossary, degraded FROM turns ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	var turns []TurnRecord
	for rows.Next() {
		var (
			rec      TurnRecord
			ts       int64
			degraded int
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Final, &rec.Glossary, &degraded); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(ts)
		rec.Degraded = degraded != 0
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	rows.Close()

	for i := range turns {
		stages, err := s.stages(ctx, turns[i].ID)
		if err != nil {
			return nil, err
		}
		turns[i].Stages = stages
	}
	return turns, nil
}

func (s *Store) stages(ctx context.Context, turnID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, input, output, kind, prompt_tokens, generated_tokens, elapsed_ms
		 FROM stages WHERE turn_id = ? ORDER BY seq`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var (
			st StageRecord
			ms int64
		)
		if err := rows.Scan(&st.Stage, &st.Input, &st.Output, &st.Kind, &st.PromptTokens, &st.GeneratedTokens, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", err)
		}
		st.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, st)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
