package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // driver registration
)

const busyTimeout = 5 * time.Second

// SQLStore keeps jobs in a SQLite database.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

type jobRow struct {
	ID          string `db:"id"`
	State       string `db:"state"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
	Output      string `db:"output"`
	DownloadURL string `db:"download_url"`
	Error       string `db:"error"`
}

func (r jobRow) job() *Job {
	return &Job{
		ID:          r.ID,
		State:       State(r.State),
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, r.UpdatedAt).UTC(),
		Output:      r.Output,
		DownloadURL: r.DownloadURL,
		Error:       r.Error,
	}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		download_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS jobs_state_created ON jobs(state, created_at);`,
}

// OpenSQL opens or creates the job database at path and migrates it.
func OpenSQL(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", abs, busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, busyTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close releases the database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context) (*Job, error) {
	job := newJob(s.now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, state, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		job.ID, string(job.State), job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *SQLStore) update(ctx context.Context, id, query string, args ...interface{}) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return notFound(id)
		}
		return nil
	})
}

func (s *SQLStore) Complete(ctx context.Context, id, output, downloadURL string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET state = ?, output = ?, download_url = ?, error = '', updated_at = ? WHERE id = ?`,
		string(StateCompleted), output, downloadURL, s.now().UTC().UnixNano(), id)
}

func (s *SQLStore) Fail(ctx context.Context, id, reason string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET state = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(StateFailed), reason, s.now().UTC().UnixNano(), id)
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.job(), nil
}

func (s *SQLStore) Latest(ctx context.Context) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM jobs WHERE state = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		string(StateCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, noneCompleted()
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return row.job(), nil
}

// Open returns a SQLStore at path, or a MemoryStore when path is empty.
func Open(ctx context.Context, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemoryStore(), nil
	}
	return OpenSQL(ctx, path)
}
