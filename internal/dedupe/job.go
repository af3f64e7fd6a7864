package dedupe

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JonMunkholm/dedupe/internal/logging"
)

// ContextCheckInterval is how often (in rows) the scan checks for cancellation.
var ContextCheckInterval = 100

// RowReader yields the header row followed by data rows, then io.EOF.
// *csv.Reader satisfies it.
type RowReader interface {
	Read() ([]string, error)
}

// Sink receives output rows. Nothing written is visible until Commit succeeds.
type Sink interface {
	WriteRow(row []string) error
	// Commit closes the artifact and returns its public URL.
	Commit() (string, error)
	// Abort discards everything written so far.
	Abort() error
}

// SinkOpener creates the output artifact once configuration has been validated.
type SinkOpener func(ctx context.Context) (Sink, error)

// RunOptions carries the collaborators of a single run.
type RunOptions struct {
	// OpenSink is required for flag and remove, ignored for report.
	OpenSink SinkOpener
	// Caches overrides the fresh per-job caches. Optional.
	Caches *CachePair
	// Progress is called with the record count every ContextCheckInterval rows.
	Progress func(records int)
}

// Run executes one job as a single sequential pass over src.
func Run(ctx context.Context, job Job, src RowReader, opts RunOptions) (*Report, error) {
	start := time.Now()
	logger := logging.WithFields(ctx, "job_id", job.ID, "action", job.Action, "duplicates", job.Duplicates.String())

	first, err := src.Read()
	if errors.Is(err, io.EOF) {
		return nil, ConfigError(CodeEmptyInput, "Empty file", "The input has no header row")
	}
	if err != nil {
		return nil, IOError(CodeReadInput, "Could not read input header", err, nil)
	}
	header := Header(append([]string(nil), first...))

	pos, warnings, err := ResolveFields(header, job)
	if err != nil {
		return nil, err
	}

	caches := NewCachePair(job.ID)
	if opts.Caches != nil {
		caches = *opts.Caches
	}

	classifier := NewClassifier(job.Duplicates, pos, caches)
	actions := NewActionProcessor(job.Action)
	agg := NewAggregator(len(header), pos)
	for _, w := range warnings {
		logger.Warn("job warning", "warning", w)
		agg.Warn(w)
	}

	var sink Sink
	if job.Action.WritesOutput() {
		if opts.OpenSink == nil {
			return nil, IOError(CodeOpenOutput, "No output configured", errors.New("nil sink opener"), agg.Warnings())
		}
		sink, err = opts.OpenSink(ctx)
		if err != nil {
			return nil, IOError(CodeOpenOutput, "Something went wrong opening the output file", err, agg.Warnings())
		}
		if err := sink.WriteRow(actions.OutputHeader(header)); err != nil {
			_ = sink.Abort()
			return nil, IOError(CodeOpenOutput, "Something went wrong writing the output header", err, agg.Warnings())
		}
	}

	abort := func(e *Error) (*Report, error) {
		if sink != nil {
			if aerr := sink.Abort(); aerr != nil {
				logger.Error("abort output", "error", aerr)
			}
		}
		return nil, e
	}

	cancelled := func(err error) (*Report, error) {
		return abort(&Error{Kind: KindCancelled, Code: CodeCancelled, Message: "Job cancelled", Err: err, Warnings: agg.Warnings()})
	}

	index := 0
	for {
		if index%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return cancelled(err)
			}
			if opts.Progress != nil && index > 0 {
				opts.Progress(index)
			}
		}

		values, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return abort(IOError(CodeReadInput, "Something went wrong reading the input", err, agg.Warnings()))
		}

		index++
		rec := Record{Index: index, Values: values}
		c := classifier.Classify(rec)

		if row, ok := actions.Process(rec, c); ok && sink != nil {
			if err := sink.WriteRow(row); err != nil {
				werr := &RowWriteError{Index: index, Err: err}
				logger.Error("row write failed", "record", index, "error", err)
				agg.Warn(werr.Error())
			}
		}

		agg.Add(rec, c)
	}

	// Rows since the last periodic check may have raced a cancel.
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	var fileURL string
	if sink != nil {
		fileURL, err = sink.Commit()
		if err != nil {
			_ = sink.Abort()
			return nil, IOError(CodeCloseOutput, "Something went wrong creating the output file", err, agg.Warnings())
		}
	}

	report := agg.Report(fileURL)
	logger.Info("job finished",
		"records", report.Records,
		"strict_duplicates", report.StrictDuplicates.Count,
		"partial_duplicates", report.PartialDuplicates.Count,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}
