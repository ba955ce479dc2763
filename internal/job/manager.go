package job

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/video-stream/transcriber/internal/storage"
)

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Runner executes a created job to completion.
type Runner interface {
	Run(ctx context.Context, id string)
}

// Manager creates jobs and runs them in the background.
type Manager struct {
	store  *Store
	layout *storage.Layout
	runner Runner
	log    zerolog.Logger

	// slots bounds how many pipelines run at once.
	slots chan struct{}
	wg    sync.WaitGroup
	ctx   context.Context

	mu      sync.Mutex
	closing bool
}

// NewManager creates a manager. At most maxConcurrent jobs run their
// pipeline at the same time; the rest wait in the ready stage.
func NewManager(store *Store, layout *storage.Layout, runner Runner, maxConcurrent int, log zerolog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		store:  store,
		layout: layout,
		runner: runner,
		log:    log.With().Str("component", "jobs").Logger(),
		slots:  make(chan struct{}, maxConcurrent),
		// Pipelines outlive the request that created them.
		ctx: context.Background(),
	}
}

// Create validates and persists an upload, registers the job and starts
// its pipeline without waiting for it.
func (m *Manager) Create(ctx context.Context, up Upload) (Job, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(up.ContentType)), "video/") {
		return Job{}, &ValidationError{Reason: "Only video files are allowed"}
	}

	// Reserve the pipeline before touching disk so Wait never races an Add.
	if !m.reserve() {
		return Job{}, ErrShuttingDown
	}
	launched := false
	defer func() {
		if !launched {
			m.wg.Done()
		}
	}()

	id := uuid.NewString()
	filename := storage.SanitizeFilename(up.Filename)
	files := m.layout.Files(id, filename)

	size, err := storage.SaveUpload(up.Body, files.Video)
	if err != nil {
		return Job{}, err
	}

	if _, err := m.store.Insert(New(id, filename, files)); err != nil {
		return Job{}, err
	}
	j, err := m.store.Transition(id, StatusReady, nil)
	if err != nil {
		return Job{}, err
	}

	m.log.Info().Str("job_id", id).Str("filename", filename).Int64("bytes", size).Msg("job created")
	m.launch(id)
	launched = true
	return j, nil
}

func (m *Manager) reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.wg.Add(1)
	return true
}

// launch starts a pipeline reserved by reserve.
func (m *Manager) launch(id string) {
	go func() {
		defer m.wg.Done()
		m.slots <- struct{}{}
		defer func() { <-m.slots }()
		m.runner.Run(m.ctx, id)
	}()
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (Job, error) {
	return m.store.Get(id)
}

// List returns snapshots of every job, newest first.
func (m *Manager) List() []Job {
	return m.store.List()
}

// Progress returns the progress channel of a job.
func (m *Manager) Progress(id string) (*Progress, error) {
	return m.store.Progress(id)
}

// Close stops accepting new jobs. Running and queued pipelines continue.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = true
}

// Wait blocks until every launched pipeline has returned or ctx ends.
// Call Close first so no job is launched while waiting.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
