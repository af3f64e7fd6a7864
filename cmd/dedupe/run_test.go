package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dedupe/internal/audit"
	"github.com/JonMunkholm/dedupe/internal/dedupe"
)

const sample = `id,locality,scientificName,recordedBy,eventDate
1,X,A,Bob,2020-01-01
1,X,A,Bob,2020-01-01
3,X,A,Bob,2020-01-02
5,X,A,Bob,2020-01-01
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readRows(t *testing.T, path string, delim rune) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = delim
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func testOptions(t *testing.T, action dedupe.Action) runOptions {
	return runOptions{
		job: dedupe.Job{
			Action:     action,
			Duplicates: dedupe.AllDuplicateTypes,
		},
		output: t.TempDir(),
	}
}

func TestParseJobFile(t *testing.T) {
	t.Run("all fields", func(t *testing.T) {
		jf, err := parseJobFile([]byte(`
action: remove
duplicates: partial
id: catalogNumber
fields:
  locality: verbatimLocality
  eventDate: date
output: out
type: tsv
parallel: 3
`))
		require.NoError(t, err)
		assert.Equal(t, "remove", jf.Action)
		assert.Equal(t, "partial", jf.Duplicates)
		assert.Equal(t, "catalogNumber", jf.IDField)
		assert.Equal(t, "verbatimLocality", jf.Fields.Locality)
		assert.Equal(t, "date", jf.Fields.EventDate)
		assert.Equal(t, "out", jf.Output)
		assert.Equal(t, "tsv", jf.Type)
		assert.Equal(t, 3, jf.Parallel)

		job, err := jf.job()
		require.NoError(t, err)
		assert.Equal(t, dedupe.ActionRemove, job.Action)
		assert.True(t, job.Duplicates.Partial)
		assert.False(t, job.Duplicates.Strict)
	})

	t.Run("empty document", func(t *testing.T) {
		jf, err := parseJobFile(nil)
		require.NoError(t, err)
		assert.Equal(t, jobFile{}, jf)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := parseJobFile([]byte("acton: report\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse job file")
	})

	t.Run("invalid action", func(t *testing.T) {
		jf, err := parseJobFile([]byte("action: purge\n"))
		require.NoError(t, err)
		_, err = jf.job()
		assert.Equal(t, dedupe.CodeUnsupportedAction, dedupe.CodeOf(err))
	})
}

func TestRunOptionsFromFlags(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "job.yaml", "action: remove\nduplicates: strict\noutput: from-file\nparallel: 2\n")

	tests := []struct {
		name       string
		args       []string
		wantAction dedupe.Action
		wantStrict bool
		wantOutput string
		wantPar    int
	}{
		{"defaults", nil, dedupe.ActionFlag, true, "dedupe-out", 0},
		{"job file", []string{"--config", path}, dedupe.ActionRemove, true, "from-file", 2},
		{"flag wins", []string{"--config", path, "--action", "report", "-o", "elsewhere", "-p", "5"}, dedupe.ActionReport, true, "elsewhere", 5},
		{"partial only", []string{"--duplicates", "partial"}, dedupe.ActionFlag, false, "dedupe-out", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			addRunFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			opts, err := runOptionsFromFlags(cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, opts.job.Action)
			assert.Equal(t, tt.wantStrict, opts.job.Duplicates.Strict)
			assert.Equal(t, tt.wantOutput, opts.output)
			assert.Equal(t, tt.wantPar, opts.parallel)
		})
	}

	t.Run("bad duplicates", func(t *testing.T) {
		cmd := &cobra.Command{}
		addRunFlags(cmd)
		require.NoError(t, cmd.ParseFlags([]string{"--duplicates", "fuzzy"}))
		_, err := runOptionsFromFlags(cmd)
		assert.Equal(t, dedupe.CodeUnsupportedDuplicates, dedupe.CodeOf(err))
	})
}

func TestRunJobsFlag(t *testing.T) {
	in := writeFile(t, t.TempDir(), "occ.csv", sample)
	opts := testOptions(t, dedupe.ActionFlag)

	results, err := runJobs(context.Background(), opts, []string{in})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.Empty(t, res.Error)
	require.NotNil(t, res.Report)
	assert.Equal(t, 4, res.Report.Records)
	assert.Equal(t, 5, res.Report.Fields)
	assert.Equal(t, 1, res.Report.StrictDuplicates.Count)
	assert.Equal(t, 1, res.Report.PartialDuplicates.Count)
	assert.Equal(t, int64(len(sample)), res.Size)
	assert.True(t, strings.HasPrefix(res.Report.FileURL, "file://"), res.Report.FileURL)
	assert.True(t, strings.HasSuffix(res.Report.FileURL, "/"+res.JobID+"/modif.csv"), res.Report.FileURL)

	rows := readRows(t, filepath.Join(opts.output, res.JobID, "modif.csv"), ',')
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"1", "X", "A", "Bob", "2020-01-01", "true", "strict", "1"}, rows[2])
	assert.Equal(t, []string{"3", "X", "A", "Bob", "2020-01-02", "false", "", ""}, rows[3])
	assert.Equal(t, []string{"5", "X", "A", "Bob", "2020-01-01", "true", "partial", "1"}, rows[4])
}

func TestRunJobsRemoveTSV(t *testing.T) {
	tsv := strings.ReplaceAll(sample, ",", "\t")
	in := writeFile(t, t.TempDir(), "occ.tsv", tsv)
	opts := testOptions(t, dedupe.ActionRemove)

	results, err := runJobs(context.Background(), opts, []string{in})
	require.NoError(t, err)
	res := results[0]
	require.Empty(t, res.Error)

	rows := readRows(t, filepath.Join(opts.output, res.JobID, "modif.txt"), '\t')
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "3", rows[2][0])
}

func TestRunJobsReport(t *testing.T) {
	in := writeFile(t, t.TempDir(), "occ.csv", sample)
	opts := testOptions(t, dedupe.ActionReport)

	results, err := runJobs(context.Background(), opts, []string{in})
	require.NoError(t, err)
	res := results[0]
	require.Empty(t, res.Error)
	assert.Empty(t, res.Report.FileURL)
	assert.NoFileExists(t, filepath.Join(opts.output, res.JobID, "modif.csv"))
}

func TestRunJobsForcedType(t *testing.T) {
	tsv := strings.ReplaceAll(sample, ",", "\t")
	in := writeFile(t, t.TempDir(), "occ.data", tsv)
	opts := testOptions(t, dedupe.ActionReport)
	opts.fileType = "tsv"

	results, err := runJobs(context.Background(), opts, []string{in})
	require.NoError(t, err)
	require.Empty(t, results[0].Error)
	assert.Equal(t, 5, results[0].Report.Fields)
}

func TestRunJobsMixedWithAudit(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.csv", sample),
		writeFile(t, dir, "b.xlsx", sample),
		writeFile(t, dir, "c.csv", "id;locality\n1;X\n"),
		filepath.Join(dir, "missing.csv"),
	}
	opts := testOptions(t, dedupe.ActionReport)
	opts.parallel = 2
	opts.auditPath = filepath.Join(dir, "audit.db")

	results, err := runJobs(context.Background(), opts, paths)
	require.NoError(t, err)
	require.Len(t, results, 4)

	// Results keep argument order.
	for i, p := range paths {
		assert.Equal(t, p, results[i].File)
	}
	assert.Empty(t, results[0].Error)
	assert.Equal(t, dedupe.CodeUnsupportedType, results[1].ErrorCode)
	assert.Equal(t, dedupe.CodeSingleColumn, results[2].ErrorCode)
	assert.Equal(t, dedupe.CodeReadInput, results[3].ErrorCode)
	assert.Equal(t, 3, failed(results))

	store, err := audit.NewSQLiteStore(opts.auditPath)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.Recent(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, cliClient, e.Client)
	}

	ok, err := store.Recent(context.Background(), audit.Filter{Status: audit.StatusSuccess})
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, results[0].JobID, ok[0].JobID)
	assert.Equal(t, 4, ok[0].Records)
}

func TestWriteSummary(t *testing.T) {
	color.NoColor = true

	results := []fileResult{
		{
			File: "a.csv",
			Size: 2048,
			Report: &dedupe.Report{
				Records:           1200,
				Fields:            5,
				StrictDuplicates:  dedupe.TierReport{Count: 3},
				PartialDuplicates: dedupe.TierReport{Count: 2},
				FileURL:           "file:///out/j1/modif.csv",
			},
			Warnings: []string{"row 7 is short"},
		},
		{File: "b.xlsx", Error: "Unsupported file type", ErrorCode: dedupe.CodeUnsupportedType},
	}

	var buf bytes.Buffer
	writeSummary(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "✓ a.csv  1,200 records, 2.0 kB")
	assert.Contains(t, out, "strict duplicates:  3")
	assert.Contains(t, out, "partial duplicates: 2")
	assert.Contains(t, out, "output: file:///out/j1/modif.csv")
	assert.Contains(t, out, "warning: row 7 is short")
	assert.Contains(t, out, "✗ b.xlsx (CFG007)")
	assert.Contains(t, out, "2 file(s), 1 failed, 1,200 records, 5 duplicates")
}

func TestWriteJSON(t *testing.T) {
	results := []fileResult{
		{File: "a.csv", JobID: "j1", Size: 10, Report: &dedupe.Report{Records: 2, Fields: 3}},
		{File: "b.csv", JobID: "j2", Error: "boom", ErrorCode: dedupe.CodeReadInput},
	}

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, results))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "j1", got[0]["job_id"])
	assert.NotContains(t, got[0], "error")
	assert.NotContains(t, got[1], "report")
	assert.Equal(t, "IO001", got[1]["error_code"])
}
