package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// commandContext is swapped in tests.
var commandContext = exec.CommandContext

// decodeWithFFmpeg converts source to a 16-bit mono WAV at SampleRate inside a
// scoped temp dir and decodes that. It backs formats without a pure-Go decoder.
func decodeWithFFmpeg(ctx context.Context, ffmpegBinary, tempDir, source string) (*pcm, error) {
	if strings.TrimSpace(ffmpegBinary) == "" {
		return nil, fmt.Errorf("ffmpeg binary not configured")
	}

	dir, err := os.MkdirTemp(tempDir, "ffmpeg-decode-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dest := filepath.Join(dir, "decoded.wav")
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := commandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg convert: %w: %s", err, strings.TrimSpace(string(output)))
	}

	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open converted audio: %w", err)
	}
	defer f.Close()
	return decodeWAV(f)
}
