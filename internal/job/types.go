package job

import (
	"context"
	"time"

	"github.com/video-stream/transcriber/internal/storage"
)

// Status represents the current stage of a job
type Status string

const (
	StatusCreated      Status = "created"
	StatusReady        Status = "ready"
	StatusExtracting   Status = "extracting"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition enforces the pipeline's stage order.
func canTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusReady
	case StatusReady:
		return to == StatusExtracting
	case StatusExtracting:
		return to == StatusTranscribing || to == StatusFailed
	case StatusTranscribing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job is one run of the video -> audio -> transcript pipeline
type Job struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	Filename       string     `json:"filename"`
	VideoPath      string     `json:"video_path"`
	AudioPath      string     `json:"audio_path"`
	TranscriptPath string     `json:"transcript_path"`
	Error          string     `json:"error,omitempty"`
	Result         string     `json:"result,omitempty"`
	Steps          []string   `json:"steps"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// New returns a job in the created stage.
func New(id, filename string, files storage.Files) Job {
	now := time.Now()
	return Job{
		ID:             id,
		Status:         StatusCreated,
		Filename:       filename,
		VideoPath:      files.Video,
		AudioPath:      files.Audio,
		TranscriptPath: files.Transcript,
		Steps:          []string{string(StatusCreated)},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// clone returns a copy that shares no mutable state with j.
func (j *Job) clone() Job {
	c := *j
	c.Steps = append([]string(nil), j.Steps...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Extractor strips the audio track of a video into a standalone file.
type Extractor interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// Transcriber turns an audio file into text and stores it at transcriptPath.
// progress receives provider status lines while the call blocks.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, transcriptPath string, progress func(string)) (string, error)
}
