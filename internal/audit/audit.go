// Package audit records one log entry per dedupe job.
//
// Entries carry the job parameters, the outcome and the request metadata
// (client IP, User-Agent). Two backends are provided: PostgreSQL through
// pgxpool and an embedded SQLite database for single-node deployments and
// the CLI. Nop discards everything.
package audit

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
)

// Status is the outcome of a job.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// DefaultLimit is used when a Filter has no positive limit.
const DefaultLimit = 50

// APIVersion is stored with every entry.
const APIVersion = "v0"

// Entry is a single audit log row.
type Entry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"jobId"`
	Status    Status    `json:"status"`
	Client    string    `json:"client"`
	CreatedAt time.Time `json:"createdAt"`

	// Request metadata
	IPAddress  string `json:"ipAddress,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	APIVersion string `json:"apiVersion"`

	// Job parameters
	Email      string   `json:"email,omitempty"`
	Action     string   `json:"action"`
	Duplicates []string `json:"duplicates"`
	Loc        string   `json:"loc"`
	Sci        string   `json:"sci"`
	Col        string   `json:"col"`
	Dat        string   `json:"dat"`
	IDField    string   `json:"idField,omitempty"`

	// File and outcome
	ContentType       string   `json:"contentType,omitempty"`
	FileSize          int64    `json:"fileSize"`
	Records           int      `json:"records"`
	Fields            int      `json:"fields"`
	StrictDuplicates  int      `json:"strictDuplicates"`
	PartialDuplicates int      `json:"partialDuplicates"`
	Warnings          []string `json:"warnings,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// NewEntry fills the parameter fields of an entry from a job.
func NewEntry(job dedupe.Job, client string) Entry {
	fields := job.Fields.WithDefaults()
	return Entry{
		JobID:      job.ID,
		Client:     client,
		APIVersion: APIVersion,
		Action:     string(job.Action),
		Duplicates: job.Duplicates.List(),
		Loc:        fields.Locality,
		Sci:        fields.ScientificName,
		Col:        fields.RecordedBy,
		Dat:        fields.EventDate,
		IDField:    job.IDField,
	}
}

// ApplyResult records the outcome of a run.
func (e *Entry) ApplyResult(report *dedupe.Report, err error) {
	if err != nil {
		e.Status = StatusError
		if errors.Is(err, context.Canceled) || dedupe.CodeOf(err) == dedupe.CodeCancelled {
			e.Status = StatusCancelled
		}
		e.Error = err.Error()
		var jerr *dedupe.Error
		if errors.As(err, &jerr) {
			e.Warnings = append([]string(nil), jerr.Warnings...)
		}
		return
	}

	e.Status = StatusSuccess
	if report == nil {
		return
	}
	e.Records = report.Records
	e.Fields = report.Fields
	e.StrictDuplicates = report.StrictDuplicates.Count
	e.PartialDuplicates = report.PartialDuplicates.Count
	e.Warnings = append([]string(nil), report.Warnings...)
}

// Filter narrows Recent.
type Filter struct {
	Status Status
	JobID  string
	Limit  int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Store persists audit entries.
type Store interface {
	// Record inserts e and sets its ID and CreatedAt.
	Record(ctx context.Context, e *Entry) error
	// Recent returns entries newest first.
	Recent(ctx context.Context, f Filter) ([]Entry, error)
	Close() error
}

// Nop is a Store that keeps nothing.
type Nop struct{}

func (Nop) Record(context.Context, *Entry) error { return nil }

func (Nop) Recent(context.Context, Filter) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }

// parseIP strips a port if present. It returns nil for anything that is not
// an IP address.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return nil
	}
	return &addr
}
