package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Provider is a remote speech-to-text backend
type Provider interface {
	// Transcribe uploads the audio file and blocks until the text is ready.
	// progress receives human readable status lines while waiting.
	Transcribe(ctx context.Context, audioPath string, progress func(string)) (string, error)
	// Name returns the provider name
	Name() string
}

// defaultReason stands in when the provider fails a job without saying why.
const defaultReason = "provider reported an error"

// TranscriptionError is returned when the provider reports a failed job or
// could not be reached.
type TranscriptionError struct {
	Provider string
	Reason   string // failure reason reported by the provider, if any
	Err      error
}

func (e *TranscriptionError) Error() string {
	switch {
	case e.Reason != "":
		return "transcription failed: " + e.Reason
	case e.Err != nil:
		return "transcription failed: " + e.Err.Error()
	default:
		return "transcription failed: " + defaultReason
	}
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Config selects and configures a provider.
type Config struct {
	Provider          string
	AssemblyAIKey     string
	AssemblyAIBaseURL string
	SpeechModel       string
	PollInterval      time.Duration
	OpenAIKey         string
	OpenAIBaseURL     string
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config, log zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderAssemblyAI:
		if cfg.AssemblyAIKey == "" {
			return nil, fmt.Errorf("AssemblyAI API key not configured")
		}
		return NewAssemblyAIClient(cfg.AssemblyAIKey, cfg.AssemblyAIBaseURL, cfg.SpeechModel, cfg.PollInterval, log), nil
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
		return NewOpenAIWhisperClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, log), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider: %s", cfg.Provider)
	}
}
