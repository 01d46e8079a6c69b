package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/oppsync/internal/org"
	"github.com/hyperengineering/oppsync/internal/query"
	"github.com/hyperengineering/oppsync/internal/types"
)

// SQLiteStore is a durable local org.
var _ org.Client = (*SQLiteStore)(nil)

// Query returns opportunities inside the query window in keyset order.
func (s *SQLiteStore) Query(ctx context.Context, spec query.Spec) ([]types.Record, error) {
	q := `SELECT id, fields, last_modified_date FROM opportunities WHERE last_modified_date > ?`
	args := []any{formatTime(spec.Since)}
	if spec.After != nil {
		ts := formatTime(spec.After.LastModifiedDate)
		q += ` AND (last_modified_date > ? OR (last_modified_date = ? AND id > ?))`
		args = append(args, ts, ts, spec.After.ID)
	}
	q += ` ORDER BY last_modified_date ASC, id ASC`
	if spec.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, spec.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", classify(err))
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		r, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, project(r, spec.Fields))
	}
	return out, rows.Err()
}

// Find returns opportunities whose field equals value, ordered by Id.
// Name and Id use indexed columns; other fields are compared in Go.
func (s *SQLiteStore) Find(ctx context.Context, field string, value any) ([]types.Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	base := `SELECT id, fields, last_modified_date FROM opportunities`
	switch field {
	case types.FieldName:
		rows, err = s.db.QueryContext(ctx, base+` WHERE name = ? ORDER BY id`, fmt.Sprint(value))
	case types.FieldID:
		rows, err = s.db.QueryContext(ctx, base+` WHERE id = ?`, fmt.Sprint(value))
	default:
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("find opportunities: %w", classify(err))
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		r, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		if org.Matches(r, field, value) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// Get returns one opportunity by Id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (types.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, fields, last_modified_date FROM opportunities WHERE id = ?`, id)
	r, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, org.ErrNotFound
	}
	return r, err
}

// Insert stores a new opportunity and returns its assigned Id.
func (s *SQLiteStore) Insert(ctx context.Context, r types.Record) (string, error) {
	fields := cleanFields(r.Fields)
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	id := ulid.Make().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", classify(err))
	}
	defer tx.Rollback()

	modified, err := s.nextModified(ctx, tx)
	if err != nil {
		return "", err
	}
	now := formatTime(modified)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO opportunities (id, name, fields, created_at, last_modified_date)
		VALUES (?, ?, ?, ?, ?)
	`, id, nameOf(fields), string(payload), now, now)
	if err != nil {
		return "", fmt.Errorf("insert opportunity: %w", classify(err))
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", classify(err))
	}
	return id, nil
}

// Update merges fields into an existing opportunity.
func (s *SQLiteStore) Update(ctx context.Context, id string, r types.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM opportunities WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return org.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select opportunity: %w", classify(err))
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	for k, v := range cleanFields(r.Fields) {
		fields[k] = v
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	modified, err := s.nextModified(ctx, tx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE opportunities SET name = ?, fields = ?, last_modified_date = ? WHERE id = ?
	`, nameOf(fields), string(payload), formatTime(modified), id)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// CountOpportunities returns the number of stored opportunities.
func (s *SQLiteStore) CountOpportunities(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&n)
	return n, err
}

func scanOpportunity(scanner interface{ Scan(...any) error }) (types.Record, error) {
	var id, raw, modified string
	if err := scanner.Scan(&id, &raw, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Record{}, err
		}
		return types.Record{}, fmt.Errorf("scan opportunity: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	fields := map[string]any{}
	if err := dec.Decode(&fields); err != nil {
		return types.Record{}, fmt.Errorf("decode opportunity %s: %w", id, err)
	}
	for k, v := range fields {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				fields[k] = f
			}
		}
	}

	ts, err := parseTime(modified)
	if err != nil {
		return types.Record{}, err
	}
	return types.Record{ID: id, LastModifiedDate: ts, Fields: fields}, nil
}

// cleanFields drops header fields that the org owns.
func cleanFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == types.FieldID || k == types.FieldLastModifiedDate {
			continue
		}
		out[k] = v
	}
	return out
}

func nameOf(fields map[string]any) string {
	s, _ := fields[types.FieldName].(string)
	return s
}

func project(r types.Record, fields []string) types.Record {
	if len(fields) == 0 {
		return r
	}
	out := types.Record{ID: r.ID, LastModifiedDate: r.LastModifiedDate, Fields: make(map[string]any, len(fields))}
	for _, f := range fields {
		if v, ok := r.Fields[f]; ok {
			out.Fields[f] = v
		}
	}
	return out
}
