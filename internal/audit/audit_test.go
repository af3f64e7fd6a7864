package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
)

func TestWhereBuilder(t *testing.T) {
	tests := []struct {
		name      string
		numbered  bool
		status    string
		jobID     string
		wantWhere string
		wantLimit string
		wantArgs  int
	}{
		{"empty numbered", true, "", "", "", " LIMIT $1", 1},
		{"one numbered", true, "success", "", " WHERE status = $1", " LIMIT $2", 2},
		{"two numbered", true, "error", "j1", " WHERE status = $1 AND job_id = $2", " LIMIT $3", 3},
		{"two positional", false, "error", "j1", " WHERE status = ? AND job_id = ?", " LIMIT ?", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := newWhereBuilder(tt.numbered)
			wb.Add("status", tt.status)
			wb.Add("job_id", tt.jobID)
			limit := wb.Limit(10)
			where, args := wb.Build()

			if where != tt.wantWhere {
				t.Errorf("where = %q, want %q", where, tt.wantWhere)
			}
			if limit != tt.wantLimit {
				t.Errorf("limit = %q, want %q", limit, tt.wantLimit)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %v, want %d", args, tt.wantArgs)
			}
			if args[len(args)-1] != 10 {
				t.Errorf("last arg = %v, want limit 10", args[len(args)-1])
			}
		})
	}
}

func TestParseIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.10", "192.168.1.10"},
		{"192.168.1.10:5555", "192.168.1.10"},
		{"[::1]:8080", "::1"},
		{"not-an-ip", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := parseIP(tt.in)
		if tt.want == "" {
			if got != nil {
				t.Errorf("parseIP(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil || got.String() != tt.want {
			t.Errorf("parseIP(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEntry_ApplyResult(t *testing.T) {
	job := dedupe.Job{ID: "j1", Action: dedupe.ActionFlag, Duplicates: dedupe.AllDuplicateTypes}
	e := NewEntry(job, "api")
	if e.Loc != "locality" || e.Dat != "eventDate" {
		t.Errorf("defaults not applied: %+v", e)
	}
	if len(e.Duplicates) != 2 {
		t.Errorf("duplicates = %v", e.Duplicates)
	}

	e.ApplyResult(&dedupe.Report{
		Records:           10,
		Fields:            5,
		Warnings:          []string{"w"},
		StrictDuplicates:  dedupe.TierReport{Count: 2},
		PartialDuplicates: dedupe.TierReport{Count: 1},
	}, nil)
	if e.Status != StatusSuccess || e.Records != 10 || e.StrictDuplicates != 2 || e.PartialDuplicates != 1 {
		t.Errorf("success entry = %+v", e)
	}

	failed := NewEntry(job, "api")
	failed.ApplyResult(nil, dedupe.IOError(dedupe.CodeOpenOutput, "open", errors.New("boom"), []string{"w1"}))
	if failed.Status != StatusError || failed.Error == "" || len(failed.Warnings) != 1 {
		t.Errorf("error entry = %+v", failed)
	}

	cancelled := NewEntry(job, "api")
	cancelled.ApplyResult(nil, &dedupe.Error{Kind: dedupe.KindCancelled, Code: dedupe.CodeCancelled, Err: context.Canceled})
	if cancelled.Status != StatusCancelled {
		t.Errorf("cancelled status = %q", cancelled.Status)
	}
}

func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	job := dedupe.Job{ID: "job-a", Action: dedupe.ActionReport, Duplicates: dedupe.AllDuplicateTypes}
	first := NewEntry(job, "api")
	first.IPAddress = "10.0.0.1:1234"
	first.UserAgent = "curl/8"
	first.ApplyResult(&dedupe.Report{Records: 3, Fields: 5}, nil)
	if err := store.Record(ctx, &first); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Errorf("Record() did not set ID/CreatedAt: %+v", first)
	}

	second := NewEntry(dedupe.Job{ID: "job-b", Action: dedupe.ActionFlag}, "cli")
	second.ApplyResult(nil, dedupe.ConfigError(dedupe.CodeSingleColumn, "bad", ""))
	if err := store.Record(ctx, &second); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	all, err := store.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) < 2 || all[0].JobID != "job-b" {
		t.Fatalf("Recent() = %+v, want newest first", all)
	}

	failed, err := store.Recent(ctx, Filter{Status: StatusError})
	if err != nil {
		t.Fatalf("Recent(error) error = %v", err)
	}
	for _, e := range failed {
		if e.Status != StatusError {
			t.Errorf("filter returned status %q", e.Status)
		}
	}

	byJob, err := store.Recent(ctx, Filter{JobID: "job-a", Limit: 1})
	if err != nil {
		t.Fatalf("Recent(job) error = %v", err)
	}
	if len(byJob) != 1 {
		t.Fatalf("Recent(job) = %d entries, want 1", len(byJob))
	}
	got := byJob[0]
	if got.IPAddress != "10.0.0.1" || got.UserAgent != "curl/8" || got.Records != 3 {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.Duplicates) != 2 || got.Duplicates[0] != "strict" {
		t.Errorf("duplicates = %v", got.Duplicates)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit", "dedupe.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	testStoreContract(t, store)
}

// TestPostgresStore runs against a real database when
// DEDUPE_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DEDUPE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DEDUPE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	defer pool.Close()

	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	testStoreContract(t, store)
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	if err := s.Record(context.Background(), &Entry{}); err != nil {
		t.Errorf("Record() error = %v", err)
	}
	entries, err := s.Recent(context.Background(), Filter{})
	if err != nil || entries != nil {
		t.Errorf("Recent() = %v, %v", entries, err)
	}
}
