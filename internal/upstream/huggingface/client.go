package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"safetybuddy/internal/classifier"
)

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

// Client calls the Hugging Face Inference API text-classification task.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	observer   ObserverFunc
}

type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference request failed with status %d", e.StatusCode)
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL, token string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type classifyRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters classifyParameters `json:"parameters"`
}

type classifyParameters struct {
	Truncation bool `json:"truncation"`
}

func (c *Client) Classify(ctx context.Context, model, text string) ([]classifier.Result, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("text_classification", statusCode, time.Since(started)) }()

	payload, err := json.Marshal(classifyRequest{Inputs: text, Parameters: classifyParameters{Truncation: true}})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/models/" + strings.TrimLeft(model, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Body: truncateBody(string(body))}
	}
	return parseResults(body)
}

// Model binds a model id to the client so it satisfies classifier.Classifier.
func (c *Client) Model(model string, timeout time.Duration) classifier.Classifier {
	return classifier.Func(func(ctx context.Context, text string) (classifier.Result, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		results, err := c.Classify(ctx, model, text)
		if err != nil {
			return classifier.Result{}, err
		}
		top, ok := classifier.Top(results)
		if !ok {
			return classifier.Result{}, fmt.Errorf("model %s returned no labels", model)
		}
		return top, nil
	})
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

// parseResults accepts both the batched [[...]] and the flat [...] shapes.
func parseResults(data []byte) ([]classifier.Result, error) {
	var nested [][]classifier.Result
	if err := json.Unmarshal(data, &nested); err == nil {
		if len(nested) == 0 {
			return nil, nil
		}
		return nested[0], nil
	}

	var flat []classifier.Result
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("invalid classification response: %w", err)
	}
	return flat, nil
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
