package transcription

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"safetybuddy/internal/upstream/openai"
)

type fakeClient struct {
	text        string
	err         error
	got         openai.TranscriptionRequest
	body        string
	hasDeadline bool
}

func (f *fakeClient) Transcribe(ctx context.Context, in openai.TranscriptionRequest) (string, error) {
	data, _ := io.ReadAll(in.File)
	f.body = string(data)
	f.got = in
	_, f.hasDeadline = ctx.Deadline()
	return f.text, f.err
}

func TestTranscribeAppliesDefaults(t *testing.T) {
	client := &fakeClient{text: "  help me  "}
	svc := New(client, " whisper-large-v3 ", time.Second, WithLanguage("en"))

	text, err := svc.Transcribe(context.Background(), strings.NewReader("audio"), "", "")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "help me" {
		t.Fatalf("unexpected text: %q", text)
	}
	if client.got.Model != "whisper-large-v3" || client.got.FileName != "audio.wav" || client.got.Language != "en" {
		t.Fatalf("unexpected request: %+v", client.got)
	}
	if client.body != "audio" {
		t.Fatalf("unexpected body: %q", client.body)
	}
	if !client.hasDeadline {
		t.Fatal("expected a deadline on the upstream context")
	}
}

func TestTranscribeModelOverride(t *testing.T) {
	client := &fakeClient{text: "x"}
	svc := New(client, "default", 0)
	if _, err := svc.Transcribe(context.Background(), strings.NewReader("a"), "clip.wav", "other"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if client.got.Model != "other" || client.got.FileName != "clip.wav" {
		t.Fatalf("unexpected request: %+v", client.got)
	}
	if client.hasDeadline {
		t.Fatal("zero timeout should not set a deadline")
	}
}

func TestTranscribePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	svc := New(&fakeClient{err: boom}, "m", time.Second)
	if _, err := svc.Transcribe(context.Background(), strings.NewReader("a"), "a.wav", ""); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
