package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ProviderOpenAI = "openai"

	DefaultOpenAIURL  = "https://api.openai.com"
	maxOpenAIFileSize = 25 * 1024 * 1024 // 25MB limit
)

// OpenAIWhisperClient uses the OpenAI Whisper API
type OpenAIWhisperClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewOpenAIWhisperClient(apiKey, baseURL string, log zerolog.Logger) *OpenAIWhisperClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	return &OpenAIWhisperClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		log: log.With().Str("component", "whisper-openai").Logger(),
	}
}

func (c *OpenAIWhisperClient) Name() string {
	return ProviderOpenAI
}

func (c *OpenAIWhisperClient) Transcribe(ctx context.Context, audioPath string, progress func(string)) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", err
	}
	if info.Size() > maxOpenAIFileSize {
		return "", &TranscriptionError{
			Provider: ProviderOpenAI,
			Reason:   fmt.Sprintf("audio file is %d bytes, OpenAI accepts at most %d", info.Size(), maxOpenAIFileSize),
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return "", err
	}
	writer.WriteField("model", "whisper-1")
	writer.WriteField("response_format", "text")
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Info().Str("audio", audioPath).Int64("bytes", info.Size()).Msg("sending request to OpenAI API")
	progress("Uploading audio to OpenAI")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("OpenAI API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}
