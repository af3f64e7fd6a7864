// Package service runs dedupe jobs asynchronously.
//
// Submit stores the uploaded file under a fresh job ID, validates its header
// and returns at once; the scan runs in the background. Callers poll Status,
// block in Wait or stop a job with Cancel. Finished jobs are forgotten after
// the result TTL; their files live until the retention scheduler removes them.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/dedupe/internal/audit"
	"github.com/JonMunkholm/dedupe/internal/csvio"
	"github.com/JonMunkholm/dedupe/internal/dedupe"
	"github.com/JonMunkholm/dedupe/internal/logging"
	"github.com/JonMunkholm/dedupe/internal/notify"
	"github.com/JonMunkholm/dedupe/internal/storage"
)

const (
	DefaultJobTimeout = 10 * time.Minute
	DefaultResultTTL  = 30 * time.Minute
)

// ClientName identifies entries written by the HTTP service in the audit log.
const ClientName = "api"

// Config holds the service limits.
type Config struct {
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	ResultTTL     time.Duration
	MaxFileSize   int64
}

// Phase is the lifecycle stage of a job.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p Phase) Done() bool { return p != PhaseRunning }

// Request is one submission.
type Request struct {
	Job    dedupe.Job
	Format csvio.Format
	Email  string
	Body   io.Reader
}

// JobStatus is a point-in-time view of a job.
type JobStatus struct {
	JobID      string         `json:"job_id"`
	Phase      Phase          `json:"phase"`
	Action     dedupe.Action  `json:"action"`
	Duplicates string         `json:"duplicates"`
	Records    int            `json:"records"`
	BytesRead  int64          `json:"bytes_read"`
	BytesTotal int64          `json:"bytes_total"`
	Percent    int            `json:"percent"`
	Warnings   []string       `json:"warnings,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Report     *dedupe.Report `json:"report,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
}

type activeJob struct {
	job    dedupe.Job
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	status JobStatus
	input  *csvio.CountingReader
	err    error
}

func (a *activeJob) snapshot() JobStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := a.status
	if a.input != nil && !st.Phase.Done() {
		st.BytesRead = a.input.BytesRead()
		st.Percent = a.input.Progress()
	}
	st.Warnings = append([]string(nil), st.Warnings...)
	return st
}

// Service owns running and recently finished jobs.
type Service struct {
	files    *storage.FileStore
	audit    audit.Store
	notifier notify.Notifier
	limiter  *JobLimiter
	cfg      Config

	mu   sync.RWMutex
	jobs map[string]*activeJob
}

// New creates a service. A nil audit store or notifier disables that step.
func New(files *storage.FileStore, auditStore audit.Store, notifier notify.Notifier, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if auditStore == nil {
		auditStore = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{
		files:    files,
		audit:    auditStore,
		notifier: notifier,
		limiter:  NewJobLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		cfg:      cfg,
		jobs:     make(map[string]*activeJob),
	}
}

// Limiter exposes the concurrency limiter for health checks and shutdown.
func (s *Service) Limiter() *JobLimiter { return s.limiter }

// Files returns the underlying file store.
func (s *Service) Files() *storage.FileStore { return s.files }

// Submit stores the input, validates it and starts the job in the background.
//
// Configuration errors in the header are returned synchronously and no job
// is created. ctx bounds only the upload; the job runs under its own timeout.
func (s *Service) Submit(ctx context.Context, req Request) (JobStatus, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return JobStatus{}, err
	}
	started := false
	defer func() {
		if !started {
			s.limiter.Release()
		}
	}()

	job := req.Job
	job.ID = uuid.New().String()
	job.Delimiter = req.Format.Delimiter
	logger := logging.WithFields(ctx, "job_id", job.ID)

	entry := audit.NewEntry(job, ClientName)
	entry.Email = req.Email
	entry.ContentType = req.Format.ContentType
	entry.IPAddress = GetIPAddressFromContext(ctx)
	entry.UserAgent = GetUserAgentFromContext(ctx)

	inputName := storage.FileName(storage.InputName, req.Format.Extension)
	size, err := s.files.Put(ctx, job.ID, inputName, req.Body, s.cfg.MaxFileSize)
	if err != nil {
		_ = s.files.Delete(job.ID)
		jerr := storeError(err, s.cfg.MaxFileSize)
		s.recordFailure(ctx, &entry, jerr)
		return JobStatus{}, jerr
	}
	entry.FileSize = size

	warnings, err := s.validate(job, inputName)
	if err != nil {
		_ = s.files.Delete(job.ID)
		s.recordFailure(ctx, &entry, err)
		return JobStatus{}, err
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	jobCtx = ContextWithIPAddress(jobCtx, entry.IPAddress)
	jobCtx = ContextWithUserAgent(jobCtx, entry.UserAgent)

	active := &activeJob{
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
		status: JobStatus{
			JobID:      job.ID,
			Phase:      PhaseRunning,
			Action:     job.Action,
			Duplicates: job.Duplicates.String(),
			BytesTotal: size,
			Warnings:   warnings,
			StartedAt:  time.Now(),
		},
	}

	s.mu.Lock()
	s.jobs[job.ID] = active
	s.mu.Unlock()

	logger.Info("job submitted",
		"action", job.Action,
		"duplicates", job.Duplicates.String(),
		"content_type", req.Format.ContentType,
		"file_size", size,
	)

	started = true
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in dedupe job", "job_id", job.ID, "panic", r)
				s.finish(jobCtx, active, &entry, req.Email, nil, fmt.Errorf("internal error: %v", r))
			}
		}()
		report, err := s.run(jobCtx, active, inputName, req.Format)
		s.finish(jobCtx, active, &entry, req.Email, report, err)
	}()

	return active.snapshot(), nil
}

// validate sniffs the stored header and resolves the configured fields.
func (s *Service) validate(job dedupe.Job, inputName string) ([]string, error) {
	f, err := s.files.Open(job.ID, inputName)
	if err != nil {
		return nil, dedupe.IOError(dedupe.CodeStoreInput, "Could not read the stored file", err, nil)
	}
	defer f.Close()

	header, err := csvio.ReadHeader(csvio.Wrap(f, 0), job.Delimiter)
	if err != nil {
		return nil, err
	}
	_, warnings, err := dedupe.ResolveFields(header, job)
	return warnings, err
}

func (s *Service) run(ctx context.Context, active *activeJob, inputName string, format csvio.Format) (*dedupe.Report, error) {
	job := active.job

	f, err := s.files.Open(job.ID, inputName)
	if err != nil {
		return nil, dedupe.IOError(dedupe.CodeReadInput, "Could not open the stored file", err, nil)
	}
	defer f.Close()

	active.mu.Lock()
	total := active.status.BytesTotal
	input := csvio.Wrap(f, total)
	active.input = input
	active.mu.Unlock()

	outputName := storage.FileName(storage.OutputName, format.Extension)
	opener := func(context.Context) (dedupe.Sink, error) {
		obj, err := s.files.Create(job.ID, outputName)
		if err != nil {
			return nil, err
		}
		return csvio.NewSink(obj, format.Delimiter), nil
	}

	return dedupe.Run(ctx, job, csvio.NewReader(input, job.Delimiter), dedupe.RunOptions{
		OpenSink: opener,
		Progress: func(records int) {
			active.mu.Lock()
			active.status.Records = records
			active.mu.Unlock()
		},
	})
}

// finish records the outcome, notifies the submitter and schedules cleanup.
func (s *Service) finish(ctx context.Context, active *activeJob, entry *audit.Entry, email string, report *dedupe.Report, err error) {
	active.mu.Lock()
	if active.status.Phase.Done() {
		active.mu.Unlock()
		return
	}
	now := time.Now()
	active.status.FinishedAt = &now
	active.err = err
	switch {
	case err == nil:
		active.status.Phase = PhaseCompleted
		active.status.Report = report
		active.status.Records = report.Records
		active.status.Warnings = report.Warnings
	case dedupe.KindOf(err) == dedupe.KindCancelled:
		active.status.Phase = PhaseCancelled
	default:
		active.status.Phase = PhaseFailed
	}
	if err != nil {
		active.status.Error = err.Error()
		active.status.ErrorCode = dedupe.CodeOf(err)
	}
	if active.input != nil {
		active.status.BytesRead = active.input.BytesRead()
		active.status.Percent = 100
	}
	active.mu.Unlock()
	close(active.done)

	// Recording outlives the job context, which may already be cancelled.
	bg := context.WithoutCancel(ctx)
	logger := logging.WithFields(bg, "job_id", active.job.ID)

	entry.ApplyResult(report, err)
	if aerr := s.audit.Record(bg, entry); aerr != nil {
		logger.Error("audit record failed", "error", aerr)
	}

	msg := notify.Message{Recipient: email, JobID: active.job.ID, Action: active.job.Action, Report: report, Err: err}
	if nerr := s.notifier.Notify(bg, msg); nerr != nil {
		logger.Error("notification failed", "error", nerr)
	}

	if err != nil {
		logger.Warn("job failed", "error", err)
	}
	s.cleanup(active.job.ID, s.cfg.ResultTTL)
}

func (s *Service) recordFailure(ctx context.Context, entry *audit.Entry, err error) {
	entry.ApplyResult(nil, err)
	if aerr := s.audit.Record(context.WithoutCancel(ctx), entry); aerr != nil {
		logging.FromContext(ctx).Error("audit record failed", "job_id", entry.JobID, "error", aerr)
	}
}

func storeError(err error, limit int64) error {
	if errors.Is(err, storage.ErrTooLarge) {
		return &dedupe.Error{
			Kind:    dedupe.KindConfiguration,
			Code:    dedupe.CodeStoreInput,
			Message: "File too large",
			Detail:  fmt.Sprintf("The file exceeds the maximum size of %d bytes", limit),
			Err:     err,
		}
	}
	return dedupe.IOError(dedupe.CodeStoreInput, "Could not store the uploaded file", err, nil)
}

// cleanup forgets a finished job after delay.
func (s *Service) cleanup(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

func (s *Service) get(jobID string) (*activeJob, error) {
	s.mu.RLock()
	active, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, &dedupe.Error{
			Kind:    dedupe.KindNotFound,
			Code:    dedupe.CodeJobNotFound,
			Message: "Job not found",
			Detail:  fmt.Sprintf("No job with id %q is known. Results are kept for a limited time", jobID),
		}
	}
	return active, nil
}

// Status returns the current state of a job without blocking.
func (s *Service) Status(jobID string) (JobStatus, error) {
	active, err := s.get(jobID)
	if err != nil {
		return JobStatus{}, err
	}
	return active.snapshot(), nil
}

// Wait blocks until the job finishes or ctx is done, then returns its state.
func (s *Service) Wait(ctx context.Context, jobID string) (JobStatus, error) {
	active, err := s.get(jobID)
	if err != nil {
		return JobStatus{}, err
	}
	select {
	case <-active.done:
		return active.snapshot(), nil
	case <-ctx.Done():
		return active.snapshot(), ctx.Err()
	}
}

// Result blocks until the job finishes and returns its report or error.
func (s *Service) Result(ctx context.Context, jobID string) (*dedupe.Report, error) {
	active, err := s.get(jobID)
	if err != nil {
		return nil, err
	}
	select {
	case <-active.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	active.mu.RLock()
	defer active.mu.RUnlock()
	return active.status.Report, active.err
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (s *Service) Cancel(jobID string) error {
	active, err := s.get(jobID)
	if err != nil {
		return err
	}
	active.cancel()
	return nil
}

// Jobs returns the state of every tracked job.
func (s *Service) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, a := range s.jobs {
		out = append(out, a.snapshot())
	}
	return out
}

// AuditLog returns recent audit entries.
func (s *Service) AuditLog(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return s.audit.Recent(ctx, f)
}

// WaitForDrain blocks until every running job has finished.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every running job.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.jobs {
		a.cancel()
	}
}
