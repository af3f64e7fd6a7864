package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dedupe_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id             TEXT NOT NULL,
	status             TEXT NOT NULL,
	client             TEXT NOT NULL DEFAULT '',
	api_version        TEXT NOT NULL DEFAULT '',
	ip_address         TEXT NOT NULL DEFAULT '',
	user_agent         TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	action             TEXT NOT NULL,
	duplicates         TEXT NOT NULL DEFAULT '[]',
	loc                TEXT NOT NULL DEFAULT '',
	sci                TEXT NOT NULL DEFAULT '',
	col                TEXT NOT NULL DEFAULT '',
	dat                TEXT NOT NULL DEFAULT '',
	id_field           TEXT NOT NULL DEFAULT '',
	content_type       TEXT NOT NULL DEFAULT '',
	file_size          INTEGER NOT NULL DEFAULT 0,
	records            INTEGER NOT NULL DEFAULT 0,
	fields             INTEGER NOT NULL DEFAULT 0,
	strict_duplicates  INTEGER NOT NULL DEFAULT 0,
	partial_duplicates INTEGER NOT NULL DEFAULT 0,
	warnings           TEXT NOT NULL DEFAULT '[]',
	error              TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedupe_log_created ON dedupe_log(created_at);
CREATE INDEX IF NOT EXISTS idx_dedupe_log_job ON dedupe_log(job_id);
`

// SQLiteStore keeps the audit log in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Jobs finish concurrently; SQLite takes one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	dups, err := json.Marshal(nonNil(e.Duplicates))
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNil(e.Warnings))
	if err != nil {
		return err
	}

	ip := ""
	if addr := parseIP(e.IPAddress); addr != nil {
		ip = addr.String()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dedupe_log (
			job_id, status, client, api_version, ip_address, user_agent,
			email, action, duplicates, loc, sci, col, dat, id_field,
			content_type, file_size, records, fields, strict_duplicates,
			partial_duplicates, warnings, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, string(e.Status), e.Client, e.APIVersion, ip, e.UserAgent,
		e.Email, e.Action, string(dups), e.Loc, e.Sci, e.Col, e.Dat, e.IDField,
		e.ContentType, e.FileSize, e.Records, e.Fields, e.StrictDuplicates,
		e.PartialDuplicates, string(warnings), e.Error, e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	e.ID = id
	e.IPAddress = ip
	return nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	wb := newWhereBuilder(false)
	wb.Add("status", string(f.Status))
	wb.Add("job_id", f.JobID)
	limit := wb.Limit(f.limit())
	where, args := wb.Build()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, status, client, api_version, ip_address, user_agent,
			email, action, duplicates, loc, sci, col, dat, id_field,
			content_type, file_size, records, fields, strict_duplicates,
			partial_duplicates, warnings, error, created_at
		FROM dedupe_log`+where+` ORDER BY id DESC`+limit, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			status             string
			dups, warns, stamp string
		)
		if err := rows.Scan(
			&e.ID, &e.JobID, &status, &e.Client, &e.APIVersion, &e.IPAddress, &e.UserAgent,
			&e.Email, &e.Action, &dups, &e.Loc, &e.Sci, &e.Col, &e.Dat, &e.IDField,
			&e.ContentType, &e.FileSize, &e.Records, &e.Fields, &e.StrictDuplicates,
			&e.PartialDuplicates, &warns, &e.Error, &stamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Status = Status(status)
		if err := json.Unmarshal([]byte(dups), &e.Duplicates); err != nil {
			return nil, fmt.Errorf("decode duplicates: %w", err)
		}
		if err := json.Unmarshal([]byte(warns), &e.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		if len(e.Warnings) == 0 {
			e.Warnings = nil
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
