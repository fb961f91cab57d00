package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeFFmpeg writes a shell script that mimics ffmpeg by writing its last
// argument.
func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func TestTranscodeWritesOutput(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done; printf 'RIFF' > "$last"`)
	out := filepath.Join(t.TempDir(), "out.wav")

	if err := NewFFmpeg(bin, time.Second).Transcode(context.Background(), "in.m4a", out); err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestTranscodeReportsFailureOutput(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "in.m4a: Invalid data found when processing input" >&2; exit 1`)

	err := NewFFmpeg(bin, time.Second).Transcode(context.Background(), "in.m4a", filepath.Join(t.TempDir(), "out.wav"))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "Invalid data found") {
		t.Fatalf("expected ffmpeg output in error, got %q", got)
	}
}

func TestTranscodeEmptyOutput(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done; : > "$last"`)

	err := NewFFmpeg(bin, time.Second).Transcode(context.Background(), "in", filepath.Join(t.TempDir(), "out.wav"))
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestTranscodeMissingBinary(t *testing.T) {
	err := NewFFmpeg(filepath.Join(t.TempDir(), "nope"), time.Second).Transcode(context.Background(), "in", "out")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}
