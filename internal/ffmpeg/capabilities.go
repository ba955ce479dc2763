package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CheckAudioEncoder verifies that the ffmpeg build can encode with encoder
// by encoding a fraction of a second of silence. Call once at startup.
func CheckAudioEncoder(ctx context.Context, binary, encoder string) error {
	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "anullsrc=r=16000:cl=mono",
		"-t", "0.1",
		"-c:a", encoder,
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encoder %s unavailable: %w: %s", encoder, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
