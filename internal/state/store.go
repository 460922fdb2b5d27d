// Package state is the run log: one row per child launch, kept in SQLite so
// operators can see what ran after the fact.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/debugbridge/internal/orchestrator"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusExited    = "exited"
	StatusAbandoned = "abandoned"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var ErrNotFound = errors.New("run not found")

// RunRecord is a stored launch.
type RunRecord struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	File      string     `json:"file"`
	Cwd       string     `json:"cwd"`
	Args      []string   `json:"args"`
	Debug     bool       `json:"debug"`
	DebugPort *int       `json:"debug_port,omitempty"`
	Pid       int        `json:"pid"`
	Status    string     `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type Store struct {
	db *sql.DB
}

var _ orchestrator.Recorder = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordStart inserts a running row for run.
func (s *Store) RecordStart(ctx context.Context, run orchestrator.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	args := run.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	var port any
	if run.DebugPort > 0 {
		port = run.DebugPort
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs(id, command, file, cwd, args, debug, debug_port, pid, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, run.ID, run.Command, run.File, run.Cwd, string(argsJSON), boolToInt(run.Debug), port, run.Pid,
		StatusRunning, run.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordExit closes the row for id.
func (s *Store) RecordExit(ctx context.Context, id string, exitCode int, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, exit_code = ?, ended_at = ?
WHERE id = ?;
`, StatusExited, exitCode, endedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAbandoned flags rows still marked running. Called at startup: a previous
// host died without seeing those children exit.
func (s *Store) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, ended_at = ?
WHERE status = ?;
`, StatusAbandoned, at.UTC().Format(time.RFC3339Nano), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned runs: %w", err)
	}
	return res.RowsAffected()
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?;`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	return rec, nil
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Prune deletes finished runs that started before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM runs WHERE status != ? AND started_at < ?;
`, StatusRunning, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

const selectRuns = `
SELECT id, command, file, cwd, args, debug, debug_port, pid, status, exit_code, started_at, ended_at
FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		rec       RunRecord
		argsJSON  string
		debug     int
		port      sql.NullInt64
		exitCode  sql.NullInt64
		startedAt string
		endedAt   sql.NullString
	)
	if err := sc.Scan(&rec.ID, &rec.Command, &rec.File, &rec.Cwd, &argsJSON, &debug, &port,
		&rec.Pid, &rec.Status, &exitCode, &startedAt, &endedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return nil, fmt.Errorf("decode args for run %s: %w", rec.ID, err)
	}
	rec.Debug = debug != 0
	if port.Valid {
		p := int(port.Int64)
		rec.DebugPort = &p
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		rec.ExitCode = &c
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", rec.ID, err)
	}
	rec.StartedAt = t
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at for run %s: %w", rec.ID, err)
		}
		rec.EndedAt = &t
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
