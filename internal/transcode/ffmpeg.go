package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	SampleRate = 16000
	Channels   = 1
)

var ErrEmptyOutput = errors.New("transcoder produced no audio")

// FFmpeg converts arbitrary input audio to mono 16 kHz PCM WAV.
type FFmpeg struct {
	path    string
	timeout time.Duration
}

func NewFFmpeg(path string, timeout time.Duration) *FFmpeg {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path, timeout: timeout}
}

func (f *FFmpeg) Transcode(ctx context.Context, inPath, outPath string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.path,
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", inPath,
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-f", "wav",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, truncate(strings.TrimSpace(string(output))))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("ffmpeg output: %w", err)
	}
	if info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= 512 {
		return s
	}
	return s[:512] + "..."
}
