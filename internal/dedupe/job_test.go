package dedupe

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"
)

// memorySink collects rows in memory and records whether it was committed.
type memorySink struct {
	rows      [][]string
	committed bool
	aborted   bool
	failRow   func(row []string) error
	commitErr error
}

func (s *memorySink) WriteRow(row []string) error {
	if s.failRow != nil {
		if err := s.failRow(row); err != nil {
			return err
		}
	}
	s.rows = append(s.rows, append([]string(nil), row...))
	return nil
}

func (s *memorySink) Commit() (string, error) {
	if s.commitErr != nil {
		return "", s.commitErr
	}
	s.committed = true
	return "mem://out.csv", nil
}

func (s *memorySink) Abort() error {
	s.aborted = true
	return nil
}

func (s *memorySink) opener() SinkOpener {
	return func(context.Context) (Sink, error) { return s, nil }
}

func csvReader(data string) *csv.Reader {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	return r
}

const exampleCSV = `id,locality,scientificName,recordedBy,eventDate
1,X,A,Bob,2020-01-01
2,X,A,Bob,2020-01-01
3,X,A,Bob,2020-01-02
4,Y,B,Alice,2021-05-05
`

func TestRun_ExampleReport(t *testing.T) {
	// Row 2 is byte-identical to row 1.
	data := `id,locality,scientificName,recordedBy,eventDate
1,X,A,Bob,2020-01-01
1,X,A,Bob,2020-01-01
3,X,A,Bob,2020-01-02
4,Y,B,Alice,2021-05-05
`
	job := Job{ID: "job", Duplicates: AllDuplicateTypes, Action: ActionReport}
	report, err := Run(context.Background(), job, csvReader(data), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Records != 4 || report.Fields != 5 {
		t.Errorf("records/fields = %d/%d, want 4/5", report.Records, report.Fields)
	}
	if report.StrictDuplicates.Count != 1 {
		t.Errorf("strict count = %d, want 1", report.StrictDuplicates.Count)
	}
	if got := report.StrictDuplicates.IndexPairs; len(got) != 1 || got[0] != (IndexPair{1, 2}) {
		t.Errorf("strict pairs = %v, want [(1,2)]", got)
	}
	if got := report.StrictDuplicates.IDs; len(got) != 1 || got[0] != "1" {
		t.Errorf("strict ids = %v, want [1]", got)
	}
	if report.PartialDuplicates.Count != 0 {
		t.Errorf("partial count = %d, want 0", report.PartialDuplicates.Count)
	}
	if report.FileURL != "" {
		t.Errorf("FileURL = %q, want empty for report", report.FileURL)
	}
}

func TestRun_ExamplePartial(t *testing.T) {
	data := `id,locality,scientificName,recordedBy,eventDate
1,X,A,Bob,2020-01-01
5,X,A,Bob,2020-01-01
`
	job := Job{ID: "job", Duplicates: AllDuplicateTypes, Action: ActionReport}
	report, err := Run(context.Background(), job, csvReader(data), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.StrictDuplicates.Count != 0 {
		t.Errorf("strict count = %d, want 0", report.StrictDuplicates.Count)
	}
	if got := report.PartialDuplicates.IndexPairs; len(got) != 1 || got[0] != (IndexPair{1, 2}) {
		t.Errorf("partial pairs = %v, want [(1,2)]", got)
	}
	if got := report.PartialDuplicates.IDs; len(got) != 1 || got[0] != "5" {
		t.Errorf("partial ids = %v, want [5]", got)
	}
}

func TestRun_DistinctIDsAcrossDuplicates(t *testing.T) {
	data := `id,locality,scientificName,recordedBy,eventDate
1,X,A,Bob,2020-01-01
2,X,A,Bob,2020-01-01
2,X,A,Bob,2020-01-01
2,X,A,Bob,2020-01-01
`
	job := Job{ID: "job", Duplicates: AllDuplicateTypes, Action: ActionReport}
	report, err := Run(context.Background(), job, csvReader(data), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Record 2 is partial of 1; records 3 and 4 are strict duplicates of 2.
	if report.PartialDuplicates.Count != 1 || report.StrictDuplicates.Count != 2 {
		t.Fatalf("counts strict/partial = %d/%d, want 2/1", report.StrictDuplicates.Count, report.PartialDuplicates.Count)
	}
	if got := report.StrictDuplicates.IDs; len(got) != 1 || got[0] != "2" {
		t.Errorf("strict ids = %v, want [2]", got)
	}
	want := []IndexPair{{2, 3}, {2, 4}}
	for i, p := range report.StrictDuplicates.IndexPairs {
		if p != want[i] {
			t.Errorf("pair %d = %v, want %v", i, p, want[i])
		}
	}
}

func TestRun_Remove(t *testing.T) {
	sink := &memorySink{}
	job := Job{ID: "job", Duplicates: AllDuplicateTypes, Action: ActionRemove}
	report, err := Run(context.Background(), job, csvReader(exampleCSV), RunOptions{OpenSink: sink.opener()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sink.committed {
		t.Error("sink not committed")
	}
	if report.FileURL != "mem://out.csv" {
		t.Errorf("FileURL = %q", report.FileURL)
	}
	// header + non-duplicate rows
	dataRows := len(sink.rows) - 1
	if want := report.Records - report.Duplicates(); dataRows != want {
		t.Errorf("output rows = %d, want %d", dataRows, want)
	}
	if strings.Join(sink.rows[0], ",") != "id,locality,scientificName,recordedBy,eventDate" {
		t.Errorf("header = %v", sink.rows[0])
	}
}

func TestRun_Flag(t *testing.T) {
	data := `id,locality,scientificName,recordedBy,eventDate
1,X,A,Bob,2020-01-01
1,X,A,Bob,2020-01-01
5,X,A,Bob,2020-01-01
`
	sink := &memorySink{}
	job := Job{ID: "job", Duplicates: AllDuplicateTypes, Action: ActionFlag}
	report, err := Run(context.Background(), job, csvReader(data), RunOptions{OpenSink: sink.opener()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := [][]string{
		{"id", "locality", "scientificName", "recordedBy", "eventDate", "isDuplicate", "duplicateType", "duplicateOf"},
		{"1", "X", "A", "Bob", "2020-01-01", "false", "", ""},
		{"1", "X", "A", "Bob", "2020-01-01", "true", "strict", "1"},
		{"5", "X", "A", "Bob", "2020-01-01", "true", "partial", "1"},
	}
	if len(sink.rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(sink.rows), len(want))
	}
	for i := range want {
		if strings.Join(sink.rows[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("row %d = %v, want %v", i, sink.rows[i], want[i])
		}
	}
	if len(sink.rows)-1 != report.Records {
		t.Errorf("flag rows = %d, want records %d", len(sink.rows)-1, report.Records)
	}
}

func TestRun_ConfigurationErrorOpensNoOutput(t *testing.T) {
	tests := []struct {
		name string
		data string
		job  Job
		code string
	}{
		{"single column", "a;b;c\n1;2;3\n", Job{Duplicates: AllDuplicateTypes, Action: ActionFlag}, CodeSingleColumn},
		{"missing partial field", "id,locality\n1,X\n", Job{Duplicates: AllDuplicateTypes, Action: ActionFlag}, CodeMissingFields},
		{"explicit id missing", exampleCSV, Job{Duplicates: AllDuplicateTypes, Action: ActionRemove, IDField: "nope"}, CodeIDFieldNotFound},
		{"empty input", "", Job{Duplicates: AllDuplicateTypes, Action: ActionRemove}, CodeEmptyInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened := false
			opener := func(context.Context) (Sink, error) {
				opened = true
				return &memorySink{}, nil
			}
			_, err := Run(context.Background(), tt.job, csvReader(tt.data), RunOptions{OpenSink: opener})
			if CodeOf(err) != tt.code {
				t.Fatalf("code = %q (%v), want %q", CodeOf(err), err, tt.code)
			}
			if opened {
				t.Error("output opened despite configuration error")
			}
		})
	}
}

func TestRun_RowWriteFailureIsWarning(t *testing.T) {
	sink := &memorySink{failRow: func(row []string) error {
		if row[0] == "3" {
			return errors.New("disk hiccup")
		}
		return nil
	}}
	job := Job{ID: "job", Duplicates: DuplicateTypes{Strict: true}, Action: ActionRemove}
	report, err := Run(context.Background(), job, csvReader(exampleCSV), RunOptions{OpenSink: sink.opener()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Records != 4 {
		t.Errorf("records = %d, want 4", report.Records)
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "record 3") {
		t.Errorf("warnings = %v", report.Warnings)
	}
	// header + rows 1, 2, 4 (row 3 dropped)
	if len(sink.rows) != 4 {
		t.Errorf("rows written = %d, want 4", len(sink.rows))
	}
}

func TestRun_OpenAndCommitFailures(t *testing.T) {
	data := "locality,scientificName\nX,A\n"
	job := Job{ID: "job", Duplicates: DuplicateTypes{Strict: true}, Action: ActionFlag}

	openErr := func(context.Context) (Sink, error) { return nil, errors.New("bucket gone") }
	_, err := Run(context.Background(), job, csvReader(data), RunOptions{OpenSink: openErr})
	var jerr *Error
	if !errors.As(err, &jerr) || jerr.Code != CodeOpenOutput {
		t.Fatalf("open failure err = %v, want %s", err, CodeOpenOutput)
	}
	if len(jerr.Warnings) != 1 || jerr.Warnings[0] != NoIDFieldWarning {
		t.Errorf("warnings in error = %v, want id warning", jerr.Warnings)
	}

	sink := &memorySink{commitErr: errors.New("close failed")}
	_, err = Run(context.Background(), job, csvReader(data), RunOptions{OpenSink: sink.opener()})
	if CodeOf(err) != CodeCloseOutput {
		t.Fatalf("commit failure code = %q, want %s", CodeOf(err), CodeCloseOutput)
	}
	if !sink.aborted {
		t.Error("sink not aborted after commit failure")
	}
}

func TestRun_Cancelled(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,value\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "%d,v\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &memorySink{}
	progress := func(n int) {
		if n >= 200 {
			cancel()
		}
	}
	job := Job{ID: "job", Duplicates: DuplicateTypes{Strict: true}, Action: ActionRemove}
	_, err := Run(ctx, job, csvReader(b.String()), RunOptions{OpenSink: sink.opener(), Progress: progress})
	if CodeOf(err) != CodeCancelled {
		t.Fatalf("code = %q, want %s", CodeOf(err), CodeCancelled)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("errors.Is(err, context.Canceled) = false")
	}
	if sink.committed || !sink.aborted {
		t.Errorf("committed=%v aborted=%v, want abort without commit", sink.committed, sink.aborted)
	}
}

func TestRun_CancelledBetweenChecks(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,value\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "%d,v\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	written := 0
	sink := &memorySink{failRow: func([]string) error {
		written++
		if written == 10 {
			cancel()
		}
		return nil
	}}
	job := Job{ID: "job", Duplicates: DuplicateTypes{Strict: true}, Action: ActionRemove}
	_, err := Run(ctx, job, csvReader(b.String()), RunOptions{OpenSink: sink.opener()})
	if CodeOf(err) != CodeCancelled {
		t.Fatalf("code = %q, want %s", CodeOf(err), CodeCancelled)
	}
	if sink.committed || !sink.aborted {
		t.Errorf("committed=%v aborted=%v, want abort without commit", sink.committed, sink.aborted)
	}
}

type failingReader struct {
	rows [][]string
	err  error
}

func (r *failingReader) Read() ([]string, error) {
	if len(r.rows) == 0 {
		return nil, r.err
	}
	row := r.rows[0]
	r.rows = r.rows[1:]
	return row, nil
}

func TestRun_ReadErrorIsFatal(t *testing.T) {
	src := &failingReader{rows: [][]string{{"a", "b"}, {"1", "2"}}, err: io.ErrUnexpectedEOF}
	sink := &memorySink{}
	job := Job{ID: "job", Duplicates: DuplicateTypes{Strict: true}, Action: ActionRemove}
	_, err := Run(context.Background(), job, src, RunOptions{OpenSink: sink.opener()})
	if !IsIO(err) || CodeOf(err) != CodeReadInput {
		t.Fatalf("err = %v, want %s", err, CodeReadInput)
	}
	if sink.committed {
		t.Error("partial output committed")
	}
}

// randomCSV produces rows drawn from a small value pool so that both tiers fire.
func randomCSV(seed int64, rows int) string {
	rng := rand.New(rand.NewSource(seed))
	pick := func(vals ...string) string { return vals[rng.Intn(len(vals))] }

	var b strings.Builder
	b.WriteString("id,locality,scientificName,recordedBy,eventDate,notes\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s\n",
			pick("1", "2", "3"), pick("X", "Y"), pick("A", "B"),
			pick("Bob", "Alice"), pick("2020", "2021"), pick("", "n"))
	}
	return b.String()
}

func TestRun_Properties(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		data := randomCSV(seed, 200)
		job := Job{ID: fmt.Sprintf("job-%d", seed), Duplicates: AllDuplicateTypes, Action: ActionFlag}

		sink := &memorySink{}
		report, err := Run(context.Background(), job, csvReader(data), RunOptions{OpenSink: sink.opener()})
		if err != nil {
			t.Fatalf("seed %d: Run() error = %v", seed, err)
		}

		statuses := make(map[int]string)
		unique := 0
		for _, row := range sink.rows[1:] {
			if len(row) != 9 {
				t.Fatalf("seed %d: flagged row width = %d, want 9", seed, len(row))
			}
			if row[6] == "false" {
				unique++
			}
		}
		if got := unique + report.Duplicates(); got != report.Records {
			t.Errorf("seed %d: unique+dups = %d, want %d", seed, got, report.Records)
		}

		for _, tier := range []struct {
			name string
			tr   TierReport
		}{{"strict", report.StrictDuplicates}, {"partial", report.PartialDuplicates}} {
			for _, p := range tier.tr.IndexPairs {
				if p.Original >= p.Duplicate {
					t.Errorf("seed %d: %s pair %v references a later record", seed, tier.name, p)
				}
				if prev, ok := statuses[p.Duplicate]; ok {
					t.Errorf("seed %d: record %d counted in %s and %s", seed, p.Duplicate, prev, tier.name)
				}
				statuses[p.Duplicate] = tier.name
			}
		}
		// First occurrences are never duplicates within their own tier.
		for _, p := range report.StrictDuplicates.IndexPairs {
			if statuses[p.Original] == "strict" {
				t.Errorf("seed %d: strict original %d is itself a strict duplicate", seed, p.Original)
			}
		}
		for _, p := range report.PartialDuplicates.IndexPairs {
			if tier, dup := statuses[p.Original]; dup {
				t.Errorf("seed %d: partial original %d is a %s duplicate", seed, p.Original, tier)
			}
		}

		// A fresh job over the same input reproduces the same report.
		rerun := &memorySink{}
		again, err := Run(context.Background(), job, csvReader(data), RunOptions{OpenSink: rerun.opener()})
		if err != nil {
			t.Fatalf("seed %d: rerun error = %v", seed, err)
		}
		if len(rerun.rows) != len(sink.rows) {
			t.Fatalf("seed %d: rerun rows = %d, want %d", seed, len(rerun.rows), len(sink.rows))
		}
		for i := range sink.rows {
			if strings.Join(rerun.rows[i], ",") != strings.Join(sink.rows[i], ",") {
				t.Errorf("seed %d: rerun row %d = %v, want %v", seed, i, rerun.rows[i], sink.rows[i])
			}
		}
		again.FileURL = report.FileURL
		a, _ := json.Marshal(report)
		b, _ := json.Marshal(again)
		if string(a) != string(b) {
			t.Errorf("seed %d: rerun differs\n%s\n%s", seed, a, b)
		}
	}
}
