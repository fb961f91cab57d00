package sendgrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	DefaultHost  = "https://api.sendgrid.com"
	mailEndpoint = "/v3/mail/send"
	senderName   = "SafetyBuddy"
)

var ErrNotConfigured = errors.New("sendgrid api key or sender is not configured")

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

// Client sends mail through the SendGrid v3 API using the official SDK
// request builder and mail helpers.
type Client struct {
	host     string
	apiKey   string
	sender   string
	rest     *rest.Client
	observer ObserverFunc
}

type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sendgrid request failed with status %d", e.StatusCode)
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(host, apiKey, sender string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if strings.TrimSpace(host) == "" {
		host = DefaultHost
	}
	c := &Client{
		host:   strings.TrimRight(strings.TrimSpace(host), "/"),
		apiKey: strings.TrimSpace(apiKey),
		sender: strings.TrimSpace(sender),
		rest:   &rest.Client{HTTPClient: httpClient},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SendEmail sends a message with a plain text part and, when html is set,
// an HTML part after it.
func (c *Client) SendEmail(ctx context.Context, to, subject, text, html string) error {
	if c.apiKey == "" || c.sender == "" {
		return ErrNotConfigured
	}

	started := time.Now()
	statusCode := 0
	defer func() { c.observe("sendgrid_mail_send", statusCode, time.Since(started)) }()

	message := mail.NewSingleEmail(
		mail.NewEmail(senderName, c.sender),
		subject,
		mail.NewEmail("", strings.TrimSpace(to)),
		text,
		html,
	)

	req := sg.GetRequest(c.apiKey, mailEndpoint, c.host)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(message)

	resp, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return err
	}
	statusCode = resp.StatusCode

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return &Error{StatusCode: resp.StatusCode, Body: truncateBody(resp.Body)}
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 2048 {
		return s
	}
	return s[:2048] + "..."
}
