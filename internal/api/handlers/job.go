package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/video-stream/transcriber/internal/job"
)

// Jobs is the job manager as seen by the HTTP layer.
type Jobs interface {
	Create(ctx context.Context, up job.Upload) (job.Job, error)
	Get(id string) (job.Job, error)
	List() []job.Job
	Progress(id string) (*job.Progress, error)
}

type JobHandler struct {
	jobs      Jobs
	keepAlive time.Duration
	log       zerolog.Logger
}

func NewJobHandler(jobs Jobs, keepAlive time.Duration, log zerolog.Logger) *JobHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &JobHandler{
		jobs:      jobs,
		keepAlive: keepAlive,
		log:       log.With().Str("component", "http").Logger(),
	}
}

type createResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// CreateJob accepts a video upload and starts processing it in the background
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.create(w, r)
	if !ok {
		return
	}
	jsonResponse(w, createResponse{JobID: j.ID, Status: j.Status}, http.StatusCreated)
}

// ListJobs returns all jobs, newest first
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.jobs.List(), http.StatusOK)
}

// GetJob returns a single job by ID
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.lookupError(w, err)
		return
	}
	jsonResponse(w, j, http.StatusOK)
}

// GetTranscript returns the transcript of a completed job as plain text
func (h *JobHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.lookupError(w, err)
		return
	}
	if j.Status != job.StatusCompleted {
		jsonError(w, fmt.Sprintf("transcript not available, job is %s", j.Status), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", j.ID+".txt"))
	io.WriteString(w, j.Result)
}

// create reads the "file" part of a multipart upload and registers a job
// for it. On failure the error response has already been written.
func (h *JobHandler) create(w http.ResponseWriter, r *http.Request) (job.Job, bool) {
	mr, err := r.MultipartReader()
	if err != nil {
		jsonError(w, "expected a multipart/form-data upload", http.StatusBadRequest)
		return job.Job{}, false
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			jsonError(w, "No file uploaded", http.StatusBadRequest)
			return job.Job{}, false
		}
		if err != nil {
			h.uploadError(w, err)
			return job.Job{}, false
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		j, err := h.jobs.Create(r.Context(), job.Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		part.Close()
		if err != nil {
			h.uploadError(w, err)
			return job.Job{}, false
		}
		// Drain trailing form fields so the connection can be reused.
		io.Copy(io.Discard, r.Body)
		return j, true
	}
}

func (h *JobHandler) uploadError(w http.ResponseWriter, err error) {
	var verr *job.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Reason, http.StatusBadRequest)
	case errors.Is(err, job.ErrShuttingDown):
		jsonError(w, "server is shutting down", http.StatusServiceUnavailable)
	case errors.As(err, &maxErr):
		jsonError(w, fmt.Sprintf("file exceeds the upload limit of %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
	default:
		h.log.Error().Err(err).Msg("upload failed")
		jsonError(w, "failed to save upload", http.StatusInternalServerError)
	}
}

func (h *JobHandler) lookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, job.ErrNotFound) {
		jsonError(w, "Job not found", http.StatusNotFound)
		return
	}
	h.log.Error().Err(err).Msg("job lookup failed")
	jsonError(w, "internal error", http.StatusInternalServerError)
}
