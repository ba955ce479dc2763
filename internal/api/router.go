package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/video-stream/transcriber/internal/api/handlers"
	"github.com/video-stream/transcriber/internal/api/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins     []string
	MaxUploadBytes  int64
	StreamKeepAlive time.Duration
}

func NewRouter(jobs handlers.Jobs, opts Options, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(middleware.CORSOptions(opts.CORSOrigins)))

	jobHandler := handlers.NewJobHandler(jobs, opts.StreamKeepAlive, log)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		// Uploads
		r.Group(func(r chi.Router) {
			r.Use(middleware.UploadLimit(opts.MaxUploadBytes))

			r.Post("/jobs", jobHandler.CreateJob)
			r.Post("/transcribe-video", jobHandler.TranscribeVideo)
			r.Post("/stream-transcribe", jobHandler.StreamTranscribe)
		})

		// Jobs
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/jobs/{id}/stream", jobHandler.StreamJob)
		r.Get("/jobs/{id}/transcript", jobHandler.GetTranscript)
	})

	return r
}
