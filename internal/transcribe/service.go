package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Service runs a provider for the job pipeline and stores the resulting
// transcript next to the job's other files.
type Service struct {
	provider Provider
	log      zerolog.Logger
}

func NewService(provider Provider, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		log:      log.With().Str("component", "transcribe").Str("provider", provider.Name()).Logger(),
	}
}

// Transcribe sends audioPath to the provider and writes the text to
// transcriptPath. Provider failures are returned as *TranscriptionError.
func (s *Service) Transcribe(ctx context.Context, audioPath, transcriptPath string, progress func(string)) (string, error) {
	if progress == nil {
		progress = func(string) {}
	}

	start := time.Now()
	text, err := s.provider.Transcribe(ctx, audioPath, progress)
	if err != nil {
		var tErr *TranscriptionError
		if !errors.As(err, &tErr) {
			err = &TranscriptionError{Provider: s.provider.Name(), Err: err}
		}
		s.log.Warn().Err(err).Str("audio", audioPath).Msg("transcription failed")
		return "", err
	}
	text = strings.TrimSpace(text)
	s.log.Info().
		Str("audio", audioPath).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("transcription finished")

	if text == "" {
		return "", nil
	}
	if err := saveTranscript(transcriptPath, text); err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}
	return text, nil
}

func saveTranscript(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text+"\n"), 0644)
}
