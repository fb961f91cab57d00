package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safetybuddy/internal/upstream/openai"
)

// DefaultLabels matches the label set of the emotion models used by the
// Hugging Face backend so risk rules apply to either backend unchanged.
var DefaultLabels = []string{"anger", "disgust", "fear", "joy", "neutral", "sadness", "surprise"}

const chatSystemPrompt = `You are an emotion classifier for short transcripts of spoken audio.
You receive one transcript segment and return the single emotion that best describes the speaker.

Output rules:
- Return ONLY a JSON object of the form {"label": "<label>", "score": <confidence between 0 and 1>}.
- The label must be exactly one of: %s.
- Do not add explanations, markdown or surrounding text.`

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatLabeler classifies text with an OpenAI-compatible chat model.
type ChatLabeler struct {
	client  ChatClient
	model   string
	labels  []string
	timeout time.Duration
}

func NewChatLabeler(client ChatClient, model string, timeout time.Duration, labels ...string) *ChatLabeler {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &ChatLabeler{
		client:  client,
		model:   strings.TrimSpace(model),
		labels:  labels,
		timeout: timeout,
	}
}

func (c *ChatLabeler) Classify(ctx context.Context, text string) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.model,
		Temperature:    0.0,
		ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
		Messages: []openai.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(chatSystemPrompt, strings.Join(c.labels, ", "))},
			{Role: "user", Content: fmt.Sprintf("SEGMENT: %q", text)},
		},
	})
	if err != nil {
		return Result{}, err
	}
	return c.parse(resp.Content)
}

func (c *ChatLabeler) parse(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return Result{}, fmt.Errorf("invalid classifier response: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(parsed.Label))
	if !c.knows(label) {
		return Result{}, fmt.Errorf("classifier returned unknown label %q", parsed.Label)
	}
	score := parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return Result{Label: label, Score: score}, nil
}

func (c *ChatLabeler) knows(label string) bool {
	for _, l := range c.labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
