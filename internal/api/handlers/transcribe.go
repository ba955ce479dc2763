package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/video-stream/transcriber/internal/job"
)

type transcribeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	JobID      string `json:"job_id"`
	Transcript string `json:"transcript"`
}

type transcribeError struct {
	Error string `json:"error"`
	JobID string `json:"job_id"`
}

// TranscribeVideo accepts an upload and responds once the job has finished.
func (h *JobHandler) TranscribeVideo(w http.ResponseWriter, r *http.Request) {
	j, ok := h.create(w, r)
	if !ok {
		return
	}
	progress, err := h.jobs.Progress(j.ID)
	if err != nil {
		h.lookupError(w, err)
		return
	}

	rd := progress.Reader()
	for {
		_, err := rd.Next(r.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Client gave up; the job keeps running and stays queryable.
			h.log.Debug().Err(err).Str("job_id", j.ID).Msg("client left before job finished")
			return
		}
	}

	j, err = h.jobs.Get(j.ID)
	if err != nil {
		h.lookupError(w, err)
		return
	}
	if j.Status != job.StatusCompleted {
		jsonResponse(w, transcribeError{Error: j.Error, JobID: j.ID}, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, transcribeResponse{
		Success:    true,
		Message:    "video transcribed successfully",
		JobID:      j.ID,
		Transcript: j.Result,
	}, http.StatusOK)
}
