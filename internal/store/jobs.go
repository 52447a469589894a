package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/recelilious/Anicargo/internal/apierr"
)

// ErrDedupRace is returned by Enqueue when a dedup-key conflict occurs but
// the secondary lookup for the existing active job also misses — the real,
// documented race window of open question (a).
var ErrDedupRace = errors.New("store: dedup conflict observed but active row not found")

// Enqueue inserts a new job, or — if dedupKey is set and an active job
// already exists for (jobType, dedupKey) — returns that job's id instead,
//
func (s *Store) Enqueue(ctx context.Context, jobType string, payload string, maxAttempts int, dedupKey *string) (int64, error) {
	ts := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_type, status, payload, attempts, max_attempts, scheduled_at, dedup_key, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		jobType, JobQueued, payload, maxAttempts, ts, dedupKey, ts, ts)
	if err == nil {
		return res.LastInsertId()
	}
	if dedupKey == nil || !isUniqueConstraintErr(err) {
		return 0, fmt.Errorf("store: enqueue %s: %w", jobType, err)
	}

	// Conflict on the dedup partial-unique index: look up the existing active row.
	id, lookupErr := s.findActiveJobID(ctx, jobType, *dedupKey)
	if lookupErr != nil {
		return 0, fmt.Errorf("store: enqueue %s: %w", jobType, lookupErr)
	}
	if id == 0 {
		// Open question (a): the conflict fired but the active row is now gone
		// (e.g. it completed between the insert attempt and this lookup).
		// Surface this race rather than silently retry-looping or duplicating.
		return 0, fmt.Errorf("%w: job_type=%s dedup_key=%s", ErrDedupRace, jobType, *dedupKey)
	}
	return id, nil
}

func (s *Store) findActiveJobID(ctx context.Context, jobType, dedupKey string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE job_type = ? AND dedup_key = ? AND status IN ('queued','running','retry')
		ORDER BY created_at ASC LIMIT 1`, jobType, dedupKey).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, substrs...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// FetchNext atomically leases the earliest eligible queued/retry job for
// workerID, incrementing attempts and marking it running
// Returns nil, nil if no eligible job exists.
func (s *Store) FetchNext(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: fetch_next: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()
	row := tx.QueryRowContext(ctx, `
		SELECT id, job_type, status, payload, attempts, max_attempts, scheduled_at, dedup_key, created_at, updated_at
		FROM jobs
		WHERE status IN ('queued','retry') AND scheduled_at <= ? AND attempts < max_attempts
		ORDER BY created_at ASC LIMIT 1`, now)

	var j Job
	var dedupKey sql.NullString
	if err := row.Scan(&j.ID, &j.JobType, &j.Status, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.ScheduledAt, &dedupKey, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: fetch_next: %w", err)
	}
	if dedupKey.Valid {
		j.DedupKey = &dedupKey.String
	}

	j.Attempts++
	j.Status = JobRunning
	lockedAt := now
	j.LockedAt = &lockedAt
	j.LockedBy = &workerID

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status=?, attempts=?, locked_at=?, locked_by=?, updated_at=? WHERE id=?`,
		j.Status, j.Attempts, lockedAt, workerID, now, j.ID); err != nil {
		return nil, fmt.Errorf("store: fetch_next: lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: fetch_next: commit: %w", err)
	}
	committed = true
	return &j, nil
}

// Complete marks a job done and stores its result.
func (s *Store) Complete(ctx context.Context, jobID int64, result string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=?, result=?, locked_at=NULL, locked_by=NULL, updated_at=? WHERE id=?`,
		JobDone, result, time.Now().Unix(), jobID)
	if err != nil {
		return fmt.Errorf("store: complete %d: %w", jobID, err)
	}
	return nil
}

// Fail records a failed attempt: terminal if attempts reached
// max_attempts, otherwise scheduled for linear-backoff retry (30s * attempts).
func (s *Store) Fail(ctx context.Context, jobID int64, attempts, maxAttempts int, errMsg string) error {
	now := time.Now().Unix()
	if attempts >= maxAttempts {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status=?, last_error=?, locked_at=NULL, locked_by=NULL, updated_at=? WHERE id=?`,
			JobFailed, errMsg, now, jobID)
		if err != nil {
			return fmt.Errorf("store: fail %d: %w", jobID, err)
		}
		return nil
	}

	backoff := int64(30 * attempts)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=?, last_error=?, scheduled_at=?, locked_at=NULL, locked_by=NULL, updated_at=? WHERE id=?`,
		JobRetry, errMsg, now+backoff, now, jobID)
	if err != nil {
		return fmt.Errorf("store: fail %d: %w", jobID, err)
	}
	return nil
}

// RequeueStuck implements the cleanup loop's timeout-recovery sweep (spec
// §4.6 requeue_stuck): running jobs whose lock is older than timeoutSecs are
// moved to retry (if attempts remain) or failed with "timeout".
func (s *Store) RequeueStuck(ctx context.Context, timeoutSecs int) (retried, failed int, err error) {
	now := time.Now().Unix()
	cutoff := now - int64(timeoutSecs)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempts, max_attempts FROM jobs WHERE status = ? AND locked_at < ?`, JobRunning, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("store: requeue_stuck: select: %w", err)
	}
	type stuck struct {
		id int64
		attempts, maxAtt int
	}
	var toFix []stuck
	for rows.Next() {
		var st stuck
		if err := rows.Scan(&st.id, &st.attempts, &st.maxAtt); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("store: requeue_stuck: scan: %w", err)
		}
		toFix = append(toFix, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, st := range toFix {
		if st.attempts >= st.maxAtt {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE jobs SET status=?, last_error='timeout', locked_at=NULL, locked_by=NULL, updated_at=? WHERE id=?`,
				JobFailed, now, st.id); err != nil {
				return retried, failed, fmt.Errorf("store: requeue_stuck: fail %d: %w", st.id, err)
			}
			failed++
		} else {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE jobs SET status=?, last_error='timeout', scheduled_at=?, locked_at=NULL, locked_by=NULL, updated_at=? WHERE id=?`,
				JobRetry, now, now, st.id); err != nil {
				return retried, failed, fmt.Errorf("store: requeue_stuck: retry %d: %w", st.id, err)
			}
			retried++
		}
	}
	return retried, failed, nil
}

// Cleanup deletes done/failed jobs older than retentionHours
func (s *Store) Cleanup(ctx context.Context, retentionHours int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(retentionHours) * time.Hour).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN ('done','failed') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountJobsByStatus reports the number of jobs currently in status, used by
// the metrics collector's queue-depth gauge.
func (s *Store) CountJobsByStatus(ctx context.Context, status JobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count jobs by status: %w", err)
	}
	return n, nil
}

// GetJob returns a single job snapshot, or apierr.NotFound if absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_type, status, payload, attempts, max_attempts, scheduled_at, locked_at, locked_by, dedup_key, result, last_error, created_at, updated_at
		FROM jobs WHERE id = ?`, id)

	var j Job
	var lockedAt sql.NullInt64
	var lockedBy, dedupKey, result, lastError sql.NullString
	if err := row.Scan(&j.ID, &j.JobType, &j.Status, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.ScheduledAt,
		&lockedAt, &lockedBy, &dedupKey, &result, &lastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("job not found")
		}
		return nil, fmt.Errorf("store: get job %d: %w", id, err)
	}
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Int64
	}
	if lockedBy.Valid {
		j.LockedBy = &lockedBy.String
	}
	if dedupKey.Valid {
		j.DedupKey = &dedupKey.String
	}
	if result.Valid {
		j.Result = &result.String
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}
