package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadWatermark returns the stored watermark for a job.
func (s *SQLiteStore) LoadWatermark(ctx context.Context, jobName string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM watermarks WHERE job_name = ?`, jobName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select watermark: %w", err)
	}
	ts, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// SaveWatermark stores the watermark for a job, replacing any prior value.
// Monotonicity is enforced by the watermark.Store in front of this.
func (s *SQLiteStore) SaveWatermark(ctx context.Context, jobName string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (job_name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, jobName, formatTime(ts), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert watermark: %w", classify(err))
	}
	return nil
}

// DeleteWatermark removes the watermark for a job.
func (s *SQLiteStore) DeleteWatermark(ctx context.Context, jobName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watermarks WHERE job_name = ?`, jobName); err != nil {
		return fmt.Errorf("delete watermark: %w", classify(err))
	}
	return nil
}
