package transcription

import (
	"context"
	"io"
	"strings"
	"time"

	"safetybuddy/internal/upstream/openai"
)

type Client interface {
	Transcribe(ctx context.Context, in openai.TranscriptionRequest) (string, error)
}

// Service wraps the speech-to-text client with the default model, an
// optional language hint and a per-call deadline.
type Service struct {
	client       Client
	defaultModel string
	language     string
	timeout      time.Duration
}

type Option func(*Service)

func WithLanguage(language string) Option {
	return func(s *Service) {
		s.language = strings.TrimSpace(language)
	}
}

func New(client Client, defaultModel string, timeout time.Duration, opts ...Option) *Service {
	s := &Service{
		client:       client,
		defaultModel: strings.TrimSpace(defaultModel),
		timeout:      timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Transcribe returns the transcript trimmed of surrounding whitespace. An
// empty transcript is a valid result for silent audio.
func (s *Service) Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error) {
	selectedModel := strings.TrimSpace(model)
	if selectedModel == "" {
		selectedModel = s.defaultModel
	}
	if fileName == "" {
		fileName = "audio.wav"
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.client.Transcribe(ctx, openai.TranscriptionRequest{
		File:     file,
		FileName: fileName,
		Model:    selectedModel,
		Language: s.language,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
