package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store is the persistence boundary of the queue. All mutations are single
// conditional statements; callers never read-then-write status.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error
	// ClaimNext atomically selects one claimable pending job, moves it to
	// processing, stamps claimed-at, and increments the attempt counter.
	// Returns nil when no job is claimable (not an error).
	ClaimNext(ctx context.Context) (*Job, error)
	MarkCompleted(ctx context.Context, id string, result Result) error
	// MarkPending returns a processing job to pending for a later retry.
	MarkPending(ctx context.Context, id string, cause string, notBefore time.Time) error
	MarkFailed(ctx context.Context, id string, cause string) error
	// ReclaimStale returns jobs stuck in processing past the threshold back to
	// pending, treating a previous crash as an implicit failure. Returns the
	// number of reclaimed jobs.
	ReclaimStale(ctx context.Context, threshold time.Duration) (int, error)
	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// SQLStore implements Store over database/sql. The same statements serve both
// supported drivers; only placeholder syntax and claim locking differ.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

// OpenSQLite opens (and initializes) a SQLite-backed store. Use ":memory:"
// for tests.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite queue: %w", err)
	}
	// A single writer avoids SQLITE_BUSY churn under claim contention.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, false)
}

// OpenPostgres opens a Postgres-backed store via the pgx stdlib driver.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres queue: %w", err)
	}
	return newSQLStore(db, true)
}

// NewStoreWithDB wraps an existing database handle (used by tests with sqlmock).
func NewStoreWithDB(db *sql.DB, postgres bool) (*SQLStore, error) {
	return newSQLStore(db, postgres)
}

func newSQLStore(db *sql.DB, postgres bool) (*SQLStore, error) {
	s := &SQLStore{db: db, postgres: postgres, now: time.Now}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize queue schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		artifact TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		claimed_at BIGINT,
		finished_at BIGINT,
		not_before BIGINT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		thumbnail_ref TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claimable ON jobs(status, not_before);
	`
	_, err := s.db.Exec(schema)
	return err
}

// rebind converts ?-style placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const jobColumns = "id, artifact, kind, status, attempts, created_at, claimed_at, finished_at, not_before, last_error, thumbnail_ref, extracted_text"

func (s *SQLStore) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO jobs (id, artifact, kind, status, attempts, created_at, not_before, last_error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"),
		job.ID, job.Artifact, string(job.Kind), string(job.Status), job.Attempts,
		job.CreatedAt.Unix(), job.NotBefore.Unix(), job.LastError,
	)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLStore) ClaimNext(ctx context.Context) (*Job, error) {
	now := s.now().Unix()

	// One statement: select a candidate and flip it, guarded by the status
	// predicate on the outer UPDATE. Postgres additionally skips rows locked
	// by concurrent claimers.
	sub := "SELECT id FROM jobs WHERE status = 'pending' AND not_before <= ? ORDER BY created_at LIMIT 1"
	if s.postgres {
		sub += " FOR UPDATE SKIP LOCKED"
	}
	query := "UPDATE jobs SET status = 'processing', claimed_at = ?, attempts = attempts + 1 " +
		"WHERE id = (" + sub + ") AND status = 'pending' RETURNING " + jobColumns

	row := s.db.QueryRowContext(ctx, s.rebind(query), now, now)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, result Result) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE jobs SET status = 'completed', finished_at = ?, thumbnail_ref = ?, extracted_text = ?, last_error = '' WHERE id = ? AND status = 'processing'"),
		s.now().Unix(), result.ThumbnailRef, result.ExtractedText, id,
	)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return s.requireOneRow(res, id, StatusCompleted)
}

func (s *SQLStore) MarkPending(ctx context.Context, id string, cause string, notBefore time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE jobs SET status = 'pending', claimed_at = NULL, not_before = ?, last_error = ? WHERE id = ? AND status = 'processing'"),
		notBefore.Unix(), cause, id,
	)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	return s.requireOneRow(res, id, StatusPending)
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, cause string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE jobs SET status = 'failed', finished_at = ?, last_error = ? WHERE id = ? AND status = 'processing'"),
		s.now().Unix(), cause, id,
	)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return s.requireOneRow(res, id, StatusFailed)
}

func (s *SQLStore) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := s.now().Add(-threshold).Unix()
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE jobs SET status = 'pending', claimed_at = NULL, not_before = ?, last_error = 'reclaimed: worker crashed or stalled' WHERE status = 'processing' AND claimed_at < ?"),
		s.now().Unix(), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?"), id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			st.Pending = count
		case StatusProcessing:
			st.Processing = count
		case StatusCompleted:
			st.Completed = count
		case StatusFailed:
			st.Failed = count
		}
	}
	return st, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// requireOneRow guards the state machine: transitions from anything but
// processing indicate a logic bug or a double-processed job.
func (s *SQLStore) requireOneRow(res sql.Result, id string, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s: illegal transition to %s (not in processing)", id, to)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j          Job
		kind       string
		status     string
		createdAt  int64
		claimedAt  sql.NullInt64
		finishedAt sql.NullInt64
		notBefore  int64
	)
	err := row.Scan(&j.ID, &j.Artifact, &kind, &status, &j.Attempts,
		&createdAt, &claimedAt, &finishedAt, &notBefore,
		&j.LastError, &j.ThumbnailRef, &j.ExtractedText)
	if err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	j.CreatedAt = time.Unix(createdAt, 0)
	j.NotBefore = time.Unix(notBefore, 0)
	if claimedAt.Valid {
		t := time.Unix(claimedAt.Int64, 0)
		j.ClaimedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		j.FinishedAt = &t
	}
	return &j, nil
}
