package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ProbeStream struct {
	Index      int               `json:"index"`
	CodecName  string            `json:"codec_name"`
	CodecType  string            `json:"codec_type"` // video, audio, subtitle
	SampleRate string            `json:"sample_rate,omitempty"`
	Channels   int               `json:"channels,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type MediaInfo struct {
	Duration    string        `json:"duration"`
	Container   string        `json:"container"`
	VideoCodec  string        `json:"video_codec"`
	AudioCodec  string        `json:"audio_codec"`
	AudioTracks int           `json:"audio_tracks"`
	Streams     []ProbeStream `json:"streams"`
}

// HasAudio reports whether the media contains at least one audio stream.
func (m *MediaInfo) HasAudio() bool {
	return m.AudioTracks > 0
}

// Probe runs ffprobe on filePath.
func Probe(ctx context.Context, binary, filePath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*MediaInfo, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("ffprobe output: %w", err)
	}

	info := &MediaInfo{
		Duration:  result.Format.Duration,
		Container: result.Format.FormatName,
		Streams:   result.Streams,
	}
	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
			}
		case "audio":
			info.AudioTracks++
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	return info, nil
}
