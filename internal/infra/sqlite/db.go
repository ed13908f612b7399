// Package sqlite provides the relational system of record for the task
// distribution engine: projects, tasks, task runs, results, and quiz state.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/engine.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "engine.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			short_name           TEXT NOT NULL UNIQUE,
			name                 TEXT NOT NULL DEFAULT '',
			owner_id             INTEGER NOT NULL DEFAULT 0,
			published            BOOLEAN NOT NULL DEFAULT 0,
			scheduler            TEXT NOT NULL DEFAULT 'default',
			timeout_seconds      INTEGER NOT NULL DEFAULT 0,
			rand_within_priority BOOLEAN NOT NULL DEFAULT 0,
			default_n_answers    INTEGER NOT NULL DEFAULT 1,
			allow_anonymous      BOOLEAN NOT NULL DEFAULT 0,
			quiz_enabled         BOOLEAN NOT NULL DEFAULT 0,
			quiz_questions       INTEGER NOT NULL DEFAULT 0,
			quiz_pass            INTEGER NOT NULL DEFAULT 0,
			created              INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id   INTEGER NOT NULL,
			state        TEXT NOT NULL DEFAULT 'ongoing',
			n_answers    INTEGER NOT NULL DEFAULT 1,
			priority_0   REAL NOT NULL DEFAULT 0,
			calibration  BOOLEAN NOT NULL DEFAULT 0,
			gold_answers TEXT,
			info         TEXT NOT NULL DEFAULT '{}',
			created      INTEGER NOT NULL,
			exported     BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project_state ON tasks(project_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(project_id, priority_0)`,

		`CREATE TABLE IF NOT EXISTS task_runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id      INTEGER NOT NULL,
			project_id   INTEGER NOT NULL,
			user_id      INTEGER,
			user_ip      TEXT,
			external_uid TEXT,
			info         TEXT NOT NULL DEFAULT '{}',
			created      INTEGER NOT NULL,
			finish_time  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON task_runs(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project_user ON task_runs(project_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project_ip ON task_runs(project_id, user_ip)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project_external ON task_runs(project_id, external_uid)`,

		`CREATE TABLE IF NOT EXISTS results (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id   INTEGER NOT NULL,
			task_id      INTEGER NOT NULL,
			task_run_ids TEXT NOT NULL,
			last_version BOOLEAN NOT NULL DEFAULT 1,
			created      INTEGER NOT NULL,
			info         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_task ON results(task_id)`,

		`CREATE TABLE IF NOT EXISTS quizzes (
			user_id       INTEGER NOT NULL,
			project_id    INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'not_started',
			right_answers INTEGER NOT NULL DEFAULT 0,
			wrong_answers INTEGER NOT NULL DEFAULT 0,
			enabled       BOOLEAN NOT NULL DEFAULT 0,
			questions     INTEGER NOT NULL DEFAULT 0,
			pass          INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, project_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// encodeInfo marshals an opaque payload column; nil maps become "{}".
func encodeInfo(info map[string]any) (string, error) {
	if info == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode info: %w", err)
	}
	return string(raw), nil
}

// decodeInfo unmarshals an opaque payload column; empty text yields nil.
func decodeInfo(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

func encodeIDs(ids []int64) (string, error) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(raw), nil
}

func decodeIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode ids: %w", err)
	}
	return ids, nil
}

// inPlaceholders renders "?,?,?" for n values.
func inPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
