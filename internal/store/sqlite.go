// Package store keeps analysis runs in a local SQLite database for CLI use.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteSink stores runs and their results using modernc.org/sqlite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode
// and applies the schema.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	file_hash   TEXT NOT NULL,
	filename    TEXT,
	status      TEXT NOT NULL,
	outcome     TEXT,
	partial     INTEGER NOT NULL DEFAULT 0,
	run         TEXT NOT NULL,
	result      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS rooms (
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	room_id           TEXT NOT NULL,
	room_type         TEXT NOT NULL,
	area_m2           REAL NOT NULL,
	effective_area_m2 REAL NOT NULL,
	source_page       INTEGER NOT NULL,
	method            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS doors (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	door_id       TEXT NOT NULL,
	width_m       REAL,
	height_m      REAL NOT NULL,
	fire_category TEXT NOT NULL,
	source_page   INTEGER NOT NULL,
	method        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_file_hash ON runs(file_hash);
CREATE INDEX IF NOT EXISTS idx_rooms_run_id ON rooms(run_id);
CREATE INDEX IF NOT EXISTS idx_doors_run_id ON doors(run_id);
`

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Save replaces any earlier copy of the run.
func (s *SQLiteSink) Save(ctx context.Context, run *models.AnalysisRun, res *models.ExtractionResult) error {
	runJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("sqlite: marshal run: %w", err)
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("sqlite: marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{`DELETE FROM rooms WHERE run_id = ?`, `DELETE FROM doors WHERE run_id = ?`, `DELETE FROM runs WHERE id = ?`} {
		if _, err := tx.ExecContext(ctx, q, run.RunID); err != nil {
			return fmt.Errorf("sqlite: clear run %s: %w", run.RunID, err)
		}
	}
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, file_hash, filename, status, outcome, partial, run, result, created_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.FileHash, run.OriginalFilename, string(run.Status), run.Outcome, run.Partial, string(runJSON), string(resJSON), run.CreatedAt.UTC(), finished,
	); err != nil {
		return fmt.Errorf("sqlite: insert run %s: %w", run.RunID, err)
	}
	for _, r := range res.Rooms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (run_id, room_id, room_type, area_m2, effective_area_m2, source_page, method) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, r.RoomID, r.RoomType, r.AreaM2, r.EffectiveAreaM2, r.SourcePage, r.Method,
		); err != nil {
			return fmt.Errorf("sqlite: insert room %s: %w", r.RoomID, err)
		}
	}
	for _, d := range res.Doors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doors (run_id, door_id, width_m, height_m, fire_category, source_page, method) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, d.DoorID, d.WidthM, d.HeightM, string(d.FireCategory), d.SourcePage, d.DetectionMethod,
		); err != nil {
			return fmt.Errorf("sqlite: insert door %s: %w", d.DoorID, err)
		}
	}
	return tx.Commit()
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	RunID       string
	FileHash    string
	Filename    string
	Status      models.RunStatus
	Outcome     string
	Partial     bool
	CreatedAt   time.Time
	TotalAreaM2 float64
	Doors       int
}

// ListRuns returns the most recent runs first.
func (s *SQLiteSink) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.file_hash, COALESCE(r.filename, ''), r.status, COALESCE(r.outcome, ''), r.partial, r.created_at,
		       COALESCE((SELECT SUM(area_m2) FROM rooms WHERE run_id = r.id), 0),
		       (SELECT COUNT(*) FROM doors WHERE run_id = r.id)
		FROM runs r ORDER BY r.created_at DESC, r.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var status string
		if err := rows.Scan(&rs.RunID, &rs.FileHash, &rs.Filename, &status, &rs.Outcome, &rs.Partial, &rs.CreatedAt, &rs.TotalAreaM2, &rs.Doors); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		rs.Status = models.RunStatus(status)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// GetResult loads the stored result of a run.
func (s *SQLiteSink) GetResult(ctx context.Context, runID string) (*models.ExtractionResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get run %s: %w", runID, err)
	}
	var res models.ExtractionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal result %s: %w", runID, err)
	}
	return &res, nil
}

// FindCompletedByHash mirrors the Firestore duplicate check for local runs.
func (s *SQLiteSink) FindCompletedByHash(ctx context.Context, fileHash string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE file_hash = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		fileHash, string(models.RunCompleted)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: find by hash: %w", err)
	}
	return id, true, nil
}
