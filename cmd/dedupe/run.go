package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/dedupe/internal/audit"
	"github.com/JonMunkholm/dedupe/internal/csvio"
	"github.com/JonMunkholm/dedupe/internal/dedupe"
	"github.com/JonMunkholm/dedupe/internal/logging"
	"github.com/JonMunkholm/dedupe/internal/storage"
)

// cliClient identifies CLI runs in the audit log.
const cliClient = "cli"

var runCmd = &cobra.Command{
	Use:   "run FILE...",
	Short: "Classify duplicates in one or more files",
	Long: `Classify duplicate records in each FILE. Files are processed concurrently,
each as an independent job.

The delimiter follows the extension (.csv is comma separated; .tsv, .tab and
.txt are tab separated) unless --type is given. Outputs are written to
<output>/<job id>/modif.<ext>.

Examples:
  # Report duplicates without writing anything
  dedupe run --action report occurrences.csv

  # Drop strict duplicates from several files
  dedupe run --action remove --duplicates strict a.csv b.tsv

  # Use a job file and print JSON
  dedupe run --config job.yaml --json *.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		results, err := runJobs(cmd.Context(), opts, args)
		if err != nil {
			return err
		}

		if asJSON {
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
		} else {
			writeSummary(cmd.OutOrStdout(), results)
		}

		if n := failed(results); n > 0 {
			return fmt.Errorf("%d of %d file(s) failed", n, len(results))
		}
		return nil
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config", "", "YAML job file; flags override its values")
	f.String("action", "", "report, flag or remove (default flag)")
	f.String("duplicates", "", "strict, partial or all (default all)")
	f.String("id", "", "Name of the id column (default id, then occurrenceid)")
	f.String("loc", "", "Locality column for partial duplicates")
	f.String("sci", "", "Scientific name column for partial duplicates")
	f.String("col", "", "Recorder column for partial duplicates")
	f.String("dat", "", "Event date column for partial duplicates")
	f.String("type", "", "Force the input type: csv or tsv")
	f.StringP("output", "o", "dedupe-out", "Directory for modified files")
	f.IntP("parallel", "p", 0, "Files processed at once (default number of CPUs)")
	f.String("audit", "", "Record every job in this SQLite database")
	f.Bool("json", false, "Print results as JSON")
}

type runOptions struct {
	job       dedupe.Job
	output    string
	fileType  string
	parallel  int
	auditPath string
}

// runOptionsFromFlags merges the job file with explicitly set flags.
func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	flags := cmd.Flags()

	var jf jobFile
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if jf, err = loadJobFile(path); err != nil {
			return runOptions{}, err
		}
	}

	override := func(name string, dst *string) {
		if flags.Changed(name) || *dst == "" {
			*dst, _ = flags.GetString(name)
		}
	}
	override("action", &jf.Action)
	override("duplicates", &jf.Duplicates)
	override("id", &jf.IDField)
	override("loc", &jf.Fields.Locality)
	override("sci", &jf.Fields.ScientificName)
	override("col", &jf.Fields.RecordedBy)
	override("dat", &jf.Fields.EventDate)
	override("type", &jf.Type)
	override("output", &jf.Output)
	if flags.Changed("parallel") || jf.Parallel == 0 {
		jf.Parallel, _ = flags.GetInt("parallel")
	}

	job, err := jf.job()
	if err != nil {
		return runOptions{}, err
	}
	auditPath, _ := flags.GetString("audit")
	return runOptions{
		job:       job,
		output:    jf.Output,
		fileType:  jf.Type,
		parallel:  jf.Parallel,
		auditPath: auditPath,
	}, nil
}

// fileResult is the outcome of one file.
type fileResult struct {
	File      string         `json:"file"`
	JobID     string         `json:"job_id"`
	Size      int64          `json:"size"`
	Report    *dedupe.Report `json:"report,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Elapsed   time.Duration  `json:"-"`
}

func failed(results []fileResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// runJobs processes every path concurrently. Per-file failures are recorded
// in the results; only setup failures return an error.
func runJobs(ctx context.Context, opts runOptions, paths []string) ([]fileResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := openOutput(opts.output)
	if err != nil {
		return nil, err
	}

	var store audit.Store = audit.Nop{}
	if opts.auditPath != "" {
		s, err := audit.NewSQLiteStore(opts.auditPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		defer s.Close()
		store = s
	}

	parallel := opts.parallel
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}

	results := make([]fileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = runFile(gctx, files, store, opts, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func openOutput(dir string) (*storage.FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	base := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return storage.NewFileStore(abs, base.String())
}

func runFile(ctx context.Context, files *storage.FileStore, store audit.Store, opts runOptions, path string) fileResult {
	start := time.Now()
	job := opts.job
	job.ID = uuid.New().String()
	res := fileResult{File: path, JobID: job.ID}
	logger := logging.WithFields(ctx, "job_id", job.ID, "file", path)

	format, err := formatFor(path, opts.fileType)
	var report *dedupe.Report
	if err == nil {
		job.Delimiter = format.Delimiter
		report, res.Size, err = classifyFile(ctx, files, job, format, path)
	}

	res.Elapsed = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		res.ErrorCode = dedupe.CodeOf(err)
		var jerr *dedupe.Error
		if errors.As(err, &jerr) {
			res.Warnings = jerr.Warnings
		}
		logger.Warn("job failed", "error", err)
	} else {
		res.Report = report
		res.Warnings = report.Warnings
		logger.Info("job completed", "records", report.Records, "duplicates", report.Duplicates())
	}

	entry := audit.NewEntry(job, cliClient)
	entry.ContentType = format.ContentType
	entry.FileSize = res.Size
	entry.ApplyResult(report, err)
	if aerr := store.Record(context.WithoutCancel(ctx), &entry); aerr != nil {
		logger.Error("audit record failed", "error", aerr)
	}
	return res
}

func formatFor(path, fileType string) (csvio.Format, error) {
	if fileType != "" {
		return csvio.FormatForExtension(fileType)
	}
	return csvio.FormatForExtension(filepath.Ext(path))
}

func classifyFile(ctx context.Context, files *storage.FileStore, job dedupe.Job, format csvio.Format, path string) (*dedupe.Report, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, dedupe.IOError(dedupe.CodeReadInput, "Could not open the input file", err, nil)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	var src io.Reader = csvio.Wrap(f, size)
	outputName := storage.FileName(storage.OutputName, format.Extension)
	report, err := dedupe.Run(ctx, job, csvio.NewReader(src, format.Delimiter), dedupe.RunOptions{
		OpenSink: func(context.Context) (dedupe.Sink, error) {
			obj, err := files.Create(job.ID, outputName)
			if err != nil {
				return nil, err
			}
			return csvio.NewSink(obj, format.Delimiter), nil
		},
	})
	return report, size, err
}
