package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dedupe_log (
	id                 BIGSERIAL PRIMARY KEY,
	job_id             TEXT NOT NULL,
	status             TEXT NOT NULL,
	client             TEXT NOT NULL DEFAULT '',
	api_version        TEXT NOT NULL DEFAULT '',
	ip_address         INET,
	user_agent         TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	action             TEXT NOT NULL,
	duplicates         TEXT[] NOT NULL DEFAULT '{}',
	loc                TEXT NOT NULL DEFAULT '',
	sci                TEXT NOT NULL DEFAULT '',
	col                TEXT NOT NULL DEFAULT '',
	dat                TEXT NOT NULL DEFAULT '',
	id_field           TEXT NOT NULL DEFAULT '',
	content_type       TEXT NOT NULL DEFAULT '',
	file_size          BIGINT NOT NULL DEFAULT 0,
	records            INTEGER NOT NULL DEFAULT 0,
	fields             INTEGER NOT NULL DEFAULT 0,
	strict_duplicates  INTEGER NOT NULL DEFAULT 0,
	partial_duplicates INTEGER NOT NULL DEFAULT 0,
	warnings           TEXT[] NOT NULL DEFAULT '{}',
	error              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dedupe_log_created ON dedupe_log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dedupe_log_job ON dedupe_log(job_id);
`

// PostgresStore keeps the audit log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the dedupe_log table if it does not exist.
// The pool is owned by the caller; Close does not close it.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, e *Entry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO dedupe_log (
			job_id, status, client, api_version, ip_address, user_agent,
			email, action, duplicates, loc, sci, col, dat, id_field,
			content_type, file_size, records, fields, strict_duplicates,
			partial_duplicates, warnings, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, created_at`,
		e.JobID, string(e.Status), e.Client, e.APIVersion, parseIP(e.IPAddress), e.UserAgent,
		e.Email, e.Action, nonNil(e.Duplicates), e.Loc, e.Sci, e.Col, e.Dat, e.IDField,
		e.ContentType, e.FileSize, e.Records, e.Fields, e.StrictDuplicates,
		e.PartialDuplicates, nonNil(e.Warnings), e.Error,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	wb := newWhereBuilder(true)
	wb.Add("status", string(f.Status))
	wb.Add("job_id", f.JobID)
	limit := wb.Limit(f.limit())
	where, args := wb.Build()

	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, status, client, api_version,
			COALESCE(host(ip_address), ''), user_agent,
			email, action, duplicates, loc, sci, col, dat, id_field,
			content_type, file_size, records, fields, strict_duplicates,
			partial_duplicates, warnings, error, created_at
		FROM dedupe_log`+where+` ORDER BY id DESC`+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e      Entry
			status string
		)
		err := row.Scan(
			&e.ID, &e.JobID, &status, &e.Client, &e.APIVersion,
			&e.IPAddress, &e.UserAgent,
			&e.Email, &e.Action, &e.Duplicates, &e.Loc, &e.Sci, &e.Col, &e.Dat, &e.IDField,
			&e.ContentType, &e.FileSize, &e.Records, &e.Fields, &e.StrictDuplicates,
			&e.PartialDuplicates, &e.Warnings, &e.Error, &e.CreatedAt,
		)
		e.Status = Status(status)
		if len(e.Warnings) == 0 {
			e.Warnings = nil
		}
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error { return nil }
