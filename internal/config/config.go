package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	DataPath string `mapstructure:"data_path" validate:"required"`

	UploadDir     string `mapstructure:"upload_dir"`
	AudioDir      string `mapstructure:"audio_dir"`
	TranscriptDir string `mapstructure:"transcript_dir"`

	Provider          string        `mapstructure:"transcription_provider" validate:"oneof=assemblyai openai"`
	AssemblyAIKey     string        `mapstructure:"assemblyai_api_key" validate:"required_if=Provider assemblyai"`
	AssemblyAIBaseURL string        `mapstructure:"assemblyai_base_url" validate:"required,url"`
	SpeechModel       string        `mapstructure:"assemblyai_speech_model"`
	OpenAIKey         string        `mapstructure:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIBaseURL     string        `mapstructure:"openai_base_url" validate:"required,url"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	FFmpegPath  string `mapstructure:"ffmpeg_path" validate:"required"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	AudioCodec  string `mapstructure:"audio_codec" validate:"required"`

	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" validate:"min=1"`
	StreamKeepAlive   time.Duration `mapstructure:"stream_keepalive" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// CORS origins: comma-separated list or "*"
	CORSOrigins string `mapstructure:"cors_origins"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`

	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	ServiceName  string `mapstructure:"otel_service_name" validate:"required"`
}

var defaults = map[string]interface{}{
	"port":                        8080,
	"data_path":                   ".",
	"upload_dir":                  "",
	"audio_dir":                   "",
	"transcript_dir":              "",
	"transcription_provider":      "assemblyai",
	"assemblyai_api_key":          "",
	"assemblyai_base_url":         "https://api.assemblyai.com",
	"assemblyai_speech_model":     "best",
	"openai_api_key":              "",
	"openai_base_url":             "https://api.openai.com",
	"poll_interval":               "5s",
	"ffmpeg_path":                 "ffmpeg",
	"ffprobe_path":                "ffprobe",
	"audio_codec":                 "libmp3lame",
	"max_upload_bytes":            int64(2 << 30),
	"max_concurrent_jobs":         2,
	"stream_keepalive":            "15s",
	"shutdown_timeout":            "30s",
	"cors_origins":                "*",
	"log_level":                   "info",
	"log_format":                  "console",
	"otel_exporter_otlp_endpoint": "",
	"otel_service_name":           "video-transcriber",
}

// Load reads configuration from the environment. If envFile exists it is
// loaded first; variables already set in the environment take precedence.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// An empty FFPROBE_PATH disables probing.
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(cfg.DataPath, "uploads")
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = filepath.Join(cfg.DataPath, "audios")
	}
	if cfg.TranscriptDir == "" {
		cfg.TranscriptDir = filepath.Join(cfg.DataPath, "transcripts")
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Origins returns the configured CORS origins.
func (c *Config) Origins() []string {
	origins := []string{}
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by the environment variable that sets them.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.ToUpper(strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0])
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+describe(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	default:
		return "is invalid"
	}
}
