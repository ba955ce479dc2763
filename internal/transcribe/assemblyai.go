package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ProviderAssemblyAI = "assemblyai"

	DefaultAssemblyAIURL = "https://api.assemblyai.com"
	defaultPollInterval  = 5 * time.Second
)

// AssemblyAI transcript states.
const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusError      = "error"
)

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL    string `json:"audio_url"`
	SpeechModel string `json:"speech_model,omitempty"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// AssemblyAIClient uploads audio to AssemblyAI, submits a transcript job and
// polls it until it completes
type AssemblyAIClient struct {
	apiKey       string
	baseURL      string
	speechModel  string
	pollInterval time.Duration
	httpClient   *http.Client
	log          zerolog.Logger
}

func NewAssemblyAIClient(apiKey, baseURL, speechModel string, pollInterval time.Duration, log zerolog.Logger) *AssemblyAIClient {
	if baseURL == "" {
		baseURL = DefaultAssemblyAIURL
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &AssemblyAIClient{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		speechModel:  speechModel,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // uploads of long recordings
		},
		log: log.With().Str("component", "assemblyai").Logger(),
	}
}

func (c *AssemblyAIClient) Name() string {
	return ProviderAssemblyAI
}

func (c *AssemblyAIClient) Transcribe(ctx context.Context, audioPath string, progress func(string)) (string, error) {
	uploadURL, err := c.upload(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	t, err := c.submit(ctx, uploadURL)
	if err != nil {
		return "", fmt.Errorf("submit transcript: %w", err)
	}
	c.log.Info().Str("transcript_id", t.ID).Msg("transcription job started")
	progress("Started transcription job " + t.ID)

	return c.wait(ctx, t.ID, progress)
}

func (c *AssemblyAIClient) upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", f)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("AssemblyAI returned no upload_url")
	}
	return out.UploadURL, nil
}

func (c *AssemblyAIClient) submit(ctx context.Context, audioURL string) (*transcriptResponse, error) {
	body, err := json.Marshal(transcriptRequest{AudioURL: audioURL, SpeechModel: c.speechModel})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("AssemblyAI returned no transcript id")
	}
	return &out, nil
}

func (c *AssemblyAIClient) get(ctx context.Context, id string) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, err
	}
	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// wait polls the transcript until it is completed or errored.
func (c *AssemblyAIClient) wait(ctx context.Context, id string, progress func(string)) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		t, err := c.get(ctx, id)
		if err != nil {
			return "", fmt.Errorf("poll transcript %s: %w", id, err)
		}

		switch t.Status {
		case statusCompleted:
			return t.Text, nil
		case statusError:
			reason := strings.TrimSpace(t.Error)
			if reason == "" {
				reason = defaultReason
			}
			return "", &TranscriptionError{Provider: ProviderAssemblyAI, Reason: reason}
		default:
			progress("Progress: " + t.Status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *AssemblyAIClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("AssemblyAI API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("AssemblyAI API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode AssemblyAI response: %w", err)
	}
	return nil
}
