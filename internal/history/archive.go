// Package history archives terminal task records to SQLite. The queue's
// in-memory ring is bounded and volatile; the archive survives restarts
// and feeds the stats endpoint.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tickq/internal/task/queue"
	"tickq/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config controls the archive.
type Config struct {
	Path string

	// Keep bounds the number of retained rows; 0 keeps everything.
	Keep int

	BusyTimeout time.Duration
}

// Archive implements queue.Recorder on a SQLite file.
type Archive struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open creates or opens the archive database and applies migrations.
func Open(cfg Config, log logx.Logger) (*Archive, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	a := &Archive{db: db, log: log, keep: cfg.Keep, pruneEvery: 100}
	if err := a.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, string(b))
	return err
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Record implements queue.Recorder. Failures are logged, not surfaced;
// the queue must not stall on archive trouble.
func (a *Archive) Record(rec queue.TaskRecord) {
	if a == nil || a.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO task_history(id, custom_id, status, failure, attempts, queued_at, started_at, finished_at, exec_ms, archived_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, nullStr(rec.CustomID), rec.Status.String(), nullStr(rec.Failure), rec.Attempts,
		rec.QueuedAt, rec.StartedAt, rec.FinishedAt, rec.Execution.Milliseconds(),
		time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		a.log.Warn("archive insert failed", logx.String("task", rec.ID), logx.Err(err))
		return
	}
	if a.keep > 0 && a.opCount.Add(1)%a.pruneEvery == 0 {
		pctx, pcancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := a.prune(pctx); err != nil {
			a.log.Warn("archive prune failed", logx.Err(err))
		}
		pcancel()
	}
}

func (a *Archive) prune(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM task_history WHERE seq <= (
		   SELECT seq FROM task_history ORDER BY seq DESC LIMIT 1 OFFSET ?
		 )`, a.keep)
	return err
}

// Entry is one archived record as read back from the database.
type Entry struct {
	ID         string        `json:"id"`
	CustomID   string        `json:"custom_id,omitempty"`
	Status     string        `json:"status"`
	Failure    string        `json:"failure,omitempty"`
	Attempts   int           `json:"attempts"`
	QueuedAt   int64         `json:"queued_at"`
	StartedAt  int64         `json:"started_at"`
	FinishedAt int64         `json:"finished_at"`
	Execution  time.Duration `json:"execution"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// Recent returns up to limit most recent entries, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, custom_id, status, failure, attempts, queued_at, started_at, finished_at, exec_ms, archived_at
		 FROM task_history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			customID sql.NullString
			failure  sql.NullString
			execMS   int64
			archived string
		)
		if err := rows.Scan(&e.ID, &customID, &e.Status, &failure, &e.Attempts,
			&e.QueuedAt, &e.StartedAt, &e.FinishedAt, &execMS, &archived); err != nil {
			return nil, err
		}
		e.CustomID = customID.String
		e.Failure = failure.String
		e.Execution = time.Duration(execMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, archived); err == nil {
			e.ArchivedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
