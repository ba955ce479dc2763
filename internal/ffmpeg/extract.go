package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// maxStderr caps how much ffmpeg diagnostic output is kept on an error.
const maxStderr = 2048

// ExtractionError is returned when the audio track could not be extracted.
type ExtractionError struct {
	Input    string
	ExitCode int    // -1 when ffmpeg did not run or was killed
	Stderr   string // trimmed ffmpeg diagnostics
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := "audio extraction failed: " + e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor strips the video stream from a file and encodes its audio.
type Extractor struct {
	binary      string
	probeBinary string
	codec       string
	log         zerolog.Logger
}

// NewExtractor creates an extractor. An empty probeBinary skips the
// ffprobe audio-stream check.
func NewExtractor(binary, probeBinary, codec string, log zerolog.Logger) *Extractor {
	return &Extractor{
		binary:      binary,
		probeBinary: probeBinary,
		codec:       codec,
		log:         log.With().Str("component", "ffmpeg").Logger(),
	}
}

// Args returns the ffmpeg arguments used to extract audio.
func (e *Extractor) Args(videoPath, audioPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn", // no video
		"-acodec", e.codec,
		"-y",
		audioPath,
	}
}

// ExtractAudio writes the audio track of videoPath to audioPath.
// It blocks until ffmpeg exits. Failures are *ExtractionError.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return &ExtractionError{Input: videoPath, ExitCode: -1, Err: err}
	}

	if e.probeBinary != "" {
		info, err := Probe(ctx, e.probeBinary, videoPath)
		if err != nil {
			return &ExtractionError{Input: videoPath, ExitCode: -1, Err: err}
		}
		if !info.HasAudio() {
			return &ExtractionError{Input: videoPath, ExitCode: -1, Err: errors.New("input has no audio stream")}
		}
	}

	cmd := exec.CommandContext(ctx, e.binary, e.Args(videoPath, audioPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.log.Debug().Str("input", videoPath).Str("output", audioPath).Msg("running ffmpeg")
	if err := cmd.Run(); err != nil {
		os.Remove(audioPath)
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ExtractionError{
			Input:    videoPath,
			ExitCode: exitCode,
			Stderr:   trimStderr(stderr.String()),
			Err:      err,
		}
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return &ExtractionError{Input: videoPath, Err: fmt.Errorf("no output: %w", err), Stderr: trimStderr(stderr.String())}
	}
	if info.Size() == 0 {
		os.Remove(audioPath)
		return &ExtractionError{Input: videoPath, Err: errors.New("empty output"), Stderr: trimStderr(stderr.String())}
	}
	return nil
}

// trimStderr keeps the tail of ffmpeg's output, where the cause is printed.
func trimStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
