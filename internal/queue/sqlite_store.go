package queue

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/basket/goclaw-runloop/internal/task"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store adapter backed by a single SQLite file.
// It uses the same busy-retry and WAL pragma discipline the teacher's
// session store uses for its task table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) a SQLite-backed Store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			payload BLOB,
			priority INTEGER NOT NULL,
			source TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			scheduled_at DATETIME,
			parent_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`)
	if err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *SQLiteStore) Save(ctx context.Context, t task.Task) error {
	return retryOnBusy(ctx, 5, func() error {
		var scheduledAt any
		if t.ScheduledAt != nil {
			scheduledAt = *t.ScheduledAt
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (
				id, task_type, payload, priority, source, created_at, scheduled_at,
				parent_id, correlation_id, retry_count, max_retries, last_error, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				task_type = excluded.task_type,
				payload = excluded.payload,
				priority = excluded.priority,
				source = excluded.source,
				scheduled_at = excluded.scheduled_at,
				parent_id = excluded.parent_id,
				correlation_id = excluded.correlation_id,
				retry_count = excluded.retry_count,
				max_retries = excluded.max_retries,
				last_error = excluded.last_error,
				status = excluded.status;
		`, t.ID, t.TaskType, t.Payload, int(t.Priority), string(t.Source), t.CreatedAt, scheduledAt,
			t.ParentID, t.CorrelationID, t.RetryCount, t.MaxRetries, t.LastError, string(t.Status))
		if err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Update(ctx context.Context, t task.Task) error {
	return s.Save(ctx, t)
}

func scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	var t task.Task
	var priority int
	var source, status string
	var scheduledAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.TaskType, &t.Payload, &priority, &source, &t.CreatedAt, &scheduledAt,
		&t.ParentID, &t.CorrelationID, &t.RetryCount, &t.MaxRetries, &t.LastError, &status,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = task.Priority(priority)
	t.Source = task.Source(source)
	t.Status = task.Status(status)
	if scheduledAt.Valid {
		at := scheduledAt.Time
		t.ScheduledAt = &at
	}
	return &t, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_type, payload, priority, source, created_at, scheduled_at,
			parent_id, correlation_id, retry_count, max_retries, last_error, status
		FROM tasks WHERE id = ?;
	`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) LoadPending(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_type, payload, priority, source, created_at, scheduled_at,
			parent_id, correlation_id, retry_count, max_retries, last_error, status
		FROM tasks WHERE status = ?;
	`, string(task.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
}
