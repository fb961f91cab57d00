package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	twiliogo "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrNotConfigured = errors.New("twilio credentials are not configured")

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

// MessageCreator is the part of the Twilio REST API used to send messages.
// *api.ApiService satisfies it.
type MessageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// Client sends messages through the Twilio Messages API.
type Client struct {
	messages MessageCreator
	observer ObserverFunc
}

type Error struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("twilio request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("twilio request failed with status %d", e.StatusCode)
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithMessageCreator replaces the REST client built from the credentials.
func WithMessageCreator(messages MessageCreator) Option {
	return func(c *Client) {
		c.messages = messages
	}
}

func New(accountSID, authToken string, opts ...Option) *Client {
	accountSID, authToken = strings.TrimSpace(accountSID), strings.TrimSpace(authToken)
	c := &Client{}
	if accountSID != "" && authToken != "" {
		c.messages = twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
			Username: accountSID,
			Password: authToken,
		}).Api
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type createResult struct {
	msg *api.ApiV2010Message
	err error
}

// SendMessage creates one message and returns its SID. The SDK call takes
// no context, so ctx only bounds how long the caller waits for it.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	if c.messages == nil || strings.TrimSpace(from) == "" {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	started := time.Now()
	statusCode := 0
	defer func() { c.observe("twilio_messages", statusCode, time.Since(started)) }()

	params := &api.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)

	done := make(chan createResult, 1)
	go func() {
		msg, err := c.messages.CreateMessage(params)
		done <- createResult{msg: msg, err: err}
	}()

	var res createResult
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(res.err, &restErr) {
			statusCode = restErr.Status
			return "", &Error{StatusCode: restErr.Status, Code: restErr.Code, Message: restErr.Message}
		}
		return "", res.err
	}
	statusCode = http.StatusCreated
	if res.msg == nil || res.msg.Sid == nil {
		return "", nil
	}
	return *res.msg.Sid, nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

// Sender binds a sender number and channel to the client.
type Sender struct {
	client   *Client
	from     string
	whatsapp bool
}

func (c *Client) SMS(from string) *Sender {
	return &Sender{client: c, from: strings.TrimSpace(from)}
}

func (c *Client) WhatsApp(from string) *Sender {
	return &Sender{client: c, from: strings.TrimSpace(from), whatsapp: true}
}

// From returns the sender address as submitted to Twilio.
func (s *Sender) From() string {
	if s.whatsapp {
		return whatsappAddress(s.from)
	}
	return s.from
}

func (s *Sender) Send(ctx context.Context, to, body string) error {
	to = strings.TrimSpace(to)
	if s.whatsapp {
		to = whatsappAddress(to)
	}
	_, err := s.client.SendMessage(ctx, s.From(), to, body)
	return err
}

func whatsappAddress(number string) string {
	if number == "" || strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
