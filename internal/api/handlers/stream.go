package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/job"
)

const (
	eventProgress = "progress"
	eventDone     = "done"
	doneData      = "[DONE]"
)

// lineEndings folds CR and CRLF into LF. The SSE encoder only splits data on
// LF and would otherwise write a bare CR as the two characters `\r`.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// StreamJob pushes a job's progress messages as server-sent events. Messages
// already produced are replayed first; the stream ends after the job's
// final message with a single "done" event.
func (h *JobHandler) StreamJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, err := h.jobs.Progress(id)
	if err != nil {
		h.lookupError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// SSE connections are long-lived and must outlive the server's WriteTimeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Debug().Err(err).Str("job_id", id).Msg("could not disable write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	err = h.pump(r.Context(), progress.Reader(), rc,
		func(msg job.Message) error {
			return sse.Encode(w, sse.Event{Id: strconv.Itoa(msg.Seq), Event: eventProgress, Data: lineEndings.Replace(msg.Text)})
		},
		func() error {
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err
		},
	)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", id).Msg("stream consumer left")
		return
	}

	if err := sse.Encode(w, sse.Event{Event: eventDone, Data: doneData}); err == nil {
		rc.Flush()
	}
}

// StreamTranscribe accepts an upload like CreateJob and streams the job's
// progress back as plain text lines in the same response.
func (h *JobHandler) StreamTranscribe(w http.ResponseWriter, r *http.Request) {
	j, ok := h.create(w, r)
	if !ok {
		return
	}
	progress, err := h.jobs.Progress(j.ID)
	if err != nil {
		h.lookupError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Job-Id", j.ID)
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	err = h.pump(r.Context(), progress.Reader(), rc, func(msg job.Message) error {
		_, err := io.WriteString(w, msg.Text+"\n")
		return err
	}, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", j.ID).Msg("stream consumer left")
	}
}

// pump forwards messages from rd to send until the sentinel, flushing after
// each one. keepAlive, if set, is called whenever no message arrived within
// the keep-alive interval. It returns nil once the sentinel is reached.
func (h *JobHandler) pump(ctx context.Context, rd *job.Reader, rc *http.ResponseController, send func(job.Message) error, keepAlive func() error) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, h.keepAlive)
		msg, err := rd.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			if err := send(msg); err != nil {
				return err
			}
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if keepAlive == nil {
				continue
			}
			if err := keepAlive(); err != nil {
				return err
			}
		default:
			return err
		}

		if err := rc.Flush(); err != nil {
			return err
		}
	}
}
