package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const uploadChunkSize = 1 << 20 // 1MB

// Files are the on-disk locations of one job's artifacts.
type Files struct {
	Video      string
	Audio      string
	Transcript string
}

// Layout is the directory structure jobs write into.
type Layout struct {
	UploadDir     string
	AudioDir      string
	TranscriptDir string
}

func NewLayout(uploadDir, audioDir, transcriptDir string) *Layout {
	return &Layout{
		UploadDir:     uploadDir,
		AudioDir:      audioDir,
		TranscriptDir: transcriptDir,
	}
}

// EnsureDirs creates the upload, audio and transcript directories.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.UploadDir, l.AudioDir, l.TranscriptDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Files returns the paths for a job. Every path is prefixed by the job ID
// so concurrent jobs never share a file.
func (l *Layout) Files(jobID, filename string) Files {
	return Files{
		Video:      filepath.Join(l.UploadDir, jobID+"-"+SanitizeFilename(filename)),
		Audio:      filepath.Join(l.AudioDir, jobID+".mp3"),
		Transcript: filepath.Join(l.TranscriptDir, jobID+".txt"),
	}
}

// SanitizeFilename strips any directory components from a client supplied name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." || base == "" {
		return "upload"
	}
	return base
}

// SaveUpload streams r to dst in fixed size chunks. A partially written
// file is removed on failure.
func SaveUpload(r io.Reader, dst string) (int64, error) {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}

	n, err := io.CopyBuffer(out, r, make([]byte, uploadChunkSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return n, fmt.Errorf("save upload: %w", err)
	}
	return n, nil
}
