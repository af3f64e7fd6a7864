package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/dedupe/internal/audit"
	"github.com/JonMunkholm/dedupe/internal/csvio"
	"github.com/JonMunkholm/dedupe/internal/dedupe"
	"github.com/JonMunkholm/dedupe/internal/logging"
	"github.com/JonMunkholm/dedupe/internal/service"
	"github.com/JonMunkholm/dedupe/internal/web/templates"
)

// eventInterval is how often the progress stream samples a running job.
const eventInterval = 500 * time.Millisecond

// parseRequest builds a submission from the query string and Content-Type.
//
//	email       notification recipient
//	action      report | flag | remove (default flag)
//	duplicates  strict | partial | all (default all)
//	id          id column override
//	loc sci col dat  partial field overrides
func parseRequest(r *http.Request) (service.Request, error) {
	q := r.URL.Query()

	format, err := csvio.FormatFor(r.Header.Get("Content-Type"))
	if err != nil {
		return service.Request{}, err
	}
	action, err := dedupe.ParseAction(q.Get("action"))
	if err != nil {
		return service.Request{}, err
	}
	dups, err := dedupe.ParseDuplicateTypes(q.Get("duplicates"))
	if err != nil {
		return service.Request{}, err
	}

	return service.Request{
		Job: dedupe.Job{
			Action:     action,
			Duplicates: dups,
			IDField:    q.Get("id"),
			Fields: dedupe.PartialFields{
				Locality:       q.Get("loc"),
				ScientificName: q.Get("sci"),
				RecordedBy:     q.Get("col"),
				EventDate:      q.Get("dat"),
			},
		},
		Format: format,
		Email:  q.Get("email"),
		Body:   r.Body,
	}, nil
}

// handleSubmit stores the request body and starts a job.
// Configuration problems are answered with 400 before any job exists.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	st, err := s.service.Submit(WithRequestMetadata(r.Context(), r), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v0/dedupe/"+url.PathEscape(st.JobID))
	writeJSON(w, http.StatusAccepted, st)
}

// handleStatus returns the job state. With ?wait=true it blocks until the
// job finishes or the client goes away.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var (
		st  service.JobStatus
		err error
	)
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		st, err = s.service.Wait(r.Context(), jobID)
	} else {
		st, err = s.service.Status(jobID)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleReport blocks until the job finishes and returns its report.
// Failed jobs answer with their error.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Result(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEvents streams progress with Server-Sent Events until the job ends.
// The event id is the progress percentage.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.service.Status(jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(event string, st service.JobStatus) {
		data, _ := json.Marshal(st)
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", st.Percent, event, data)
		flusher.Flush()
	}

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	for {
		if st.Phase.Done() {
			send("complete", st)
			return
		}
		send("progress", st)

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		st, err = s.service.Status(jobID)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"code\":%q}\n\n", dedupe.CodeOf(err))
			flusher.Flush()
			return
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.service.Cancel(jobID); err != nil {
		s.respondError(w, r, err)
		return
	}
	st, err := s.service.Status(jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// handleListJobs returns every tracked job, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.service.Jobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleAuditLog lists recent audit entries. Query: status, job_id, limit.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Status: audit.Status(q.Get("status")),
		JobID:  q.Get("job_id"),
		Limit:  parseIntParam(r, "limit", audit.DefaultLimit),
	}

	entries, err := s.service.AuditLog(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleJobPage(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.JobPage(st).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render job page", "job_id", st.JobID, "error", err)
	}
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	i, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   s.service.Limiter().Status(),
	})
}
