package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperengineering/oppsync/internal/types"
)

// DefaultJobListLimit caps ListJobs when no limit is given.
const DefaultJobListLimit = 50

// JobFinished records a terminal job and its outcomes. It satisfies the
// batch runner's observer contract.
func (s *SQLiteStore) JobFinished(ctx context.Context, r types.JobReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var finished any
	if r.FinishedAt != nil {
		finished = formatTime(*r.FinishedAt)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, job_name, trigger_kind, status, total, skipped, written, inserted, updated, errored, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, total = excluded.total, skipped = excluded.skipped,
			written = excluded.written, inserted = excluded.inserted, updated = excluded.updated,
			errored = excluded.errored, error = excluded.error, finished_at = excluded.finished_at
	`, r.ID, r.Name, string(r.Trigger), string(r.Status), r.Counts.Total, r.Counts.Skipped,
		r.Counts.Written, r.Counts.Inserted, r.Counts.Updated, r.Counts.Errored,
		nullable(r.Error), formatTime(r.StartedAt), finished)
	if err != nil {
		return fmt.Errorf("insert job: %w", classify(err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_outcomes WHERE job_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear outcomes: %w", classify(err))
	}
	for i, o := range r.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO record_outcomes (job_id, position, source_id, name, outcome, action, target_id, attempts, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, i, nullable(o.SourceID), nullable(o.Name), string(o.Outcome), nullable(string(o.Action)),
			nullable(o.TargetID), o.Attempts, nullable(o.Error))
		if err != nil {
			return fmt.Errorf("insert outcome %d: %w", i, classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// ListJobs returns job summaries newest first, optionally for one job name.
// Outcomes are not loaded.
func (s *SQLiteStore) ListJobs(ctx context.Context, name string, limit int) ([]types.JobReport, error) {
	if limit <= 0 {
		limit = DefaultJobListLimit
	}
	q := `SELECT id, job_name, trigger_kind, status, total, skipped, written, inserted, updated, errored, error, started_at, finished_at
		FROM sync_jobs`
	args := []any{}
	if name != "" {
		q += ` WHERE job_name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []types.JobReport
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetJob returns one job with its outcomes in record order.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*types.JobReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_name, trigger_kind, status, total, skipped, written, inserted, updated, errored, error, started_at, finished_at
		FROM sync_jobs WHERE id = ?`, id)
	r, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, name, outcome, action, target_id, attempts, error
		FROM record_outcomes WHERE job_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o types.RecordOutcome
		var sourceID, name, action, targetID, errMsg sql.NullString
		var outcome string
		if err := rows.Scan(&sourceID, &name, &outcome, &action, &targetID, &o.Attempts, &errMsg); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.SourceID = sourceID.String
		o.Name = name.String
		o.Outcome = types.Outcome(outcome)
		o.Action = types.Action(action.String)
		o.TargetID = targetID.String
		o.Error = errMsg.String
		r.Outcomes = append(r.Outcomes, o)
	}
	return r, rows.Err()
}

// PruneJobs keeps the newest keep jobs and deletes the rest with their outcomes.
func (s *SQLiteStore) PruneJobs(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_jobs WHERE id NOT IN (
			SELECT id FROM sync_jobs ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", classify(err))
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(...any) error }) (*types.JobReport, error) {
	var r types.JobReport
	var trigger, status, started string
	var errMsg, finished sql.NullString
	err := scanner.Scan(&r.ID, &r.Name, &trigger, &status, &r.Counts.Total, &r.Counts.Skipped,
		&r.Counts.Written, &r.Counts.Inserted, &r.Counts.Updated, &r.Counts.Errored, &errMsg, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	r.Trigger = types.TriggerKind(trigger)
	r.Status = types.JobStatus(status)
	r.Error = errMsg.String
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		f, err := parseTime(finished.String)
		if err != nil {
			return nil, err
		}
		r.FinishedAt = &f
	}
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
