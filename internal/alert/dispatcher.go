package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"safetybuddy/internal/store"
)

type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
)

// Outcome records one delivery attempt, or a skipped one when the contact
// has no address for the channel.
type Outcome struct {
	ContactName string  `json:"contact_name"`
	Channel     Channel `json:"channel"`
	Success     bool    `json:"success"`
	Skipped     bool    `json:"skipped,omitempty"`
	Detail      string  `json:"detail"`
}

type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

type Mailer interface {
	SendEmail(ctx context.Context, to, subject, text, html string) error
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Request struct {
	Contacts   []store.Contact
	Transcript string
	RiskScore  int
	Location   *Location
	Student    *store.Student
}

type Dispatcher struct {
	messenger   Messenger
	channel     Channel
	mailer      Mailer
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

type Option func(*Dispatcher)

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.concurrency = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func NewDispatcher(messenger Messenger, channel Channel, mailer Mailer, opts ...Option) *Dispatcher {
	if channel != ChannelWhatsApp {
		channel = ChannelSMS
	}
	d := &Dispatcher{
		messenger:   messenger,
		channel:     channel,
		mailer:      mailer,
		timeout:     15 * time.Second,
		concurrency: 8,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	return d
}

// Dispatch attempts every channel of every contact independently and
// returns outcomes in contact order, messaging before email.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) []Outcome {
	outcomes := make([]Outcome, 2*len(req.Contacts))
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, contact := range req.Contacts {
		name := contactName(contact)
		body := composeText(req, name)

		if phone := strings.TrimSpace(contact.Phone); phone != "" {
			g.Go(func() error {
				outcomes[2*i] = d.sendMessage(ctx, name, phone, body)
				return nil
			})
		} else {
			outcomes[2*i] = skipped(name, d.channel, "skipped: no phone")
		}

		if email := strings.TrimSpace(contact.Email); email != "" {
			html := composeHTML(req, name)
			g.Go(func() error {
				outcomes[2*i+1] = d.sendEmail(ctx, name, email, body, html)
				return nil
			})
		} else {
			outcomes[2*i+1] = skipped(name, ChannelEmail, "skipped: no email")
		}
	}
	_ = g.Wait()
	return outcomes
}

func (d *Dispatcher) sendMessage(ctx context.Context, name, phone, body string) Outcome {
	if d.messenger == nil {
		return failure(name, d.channel, "messaging channel not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.messenger.Send(ctx, phone, body); err != nil {
		d.logger.Warn("alert delivery failed", "channel", d.channel, "contact", name, "error", err)
		return failure(name, d.channel, fmt.Sprintf("failed %s to %s: %v", strings.ToLower(string(d.channel)), name, err))
	}
	return Outcome{
		ContactName: name,
		Channel:     d.channel,
		Success:     true,
		Detail:      fmt.Sprintf("%s sent to %s (%s)", d.channel, name, phone),
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, name, email, text, html string) Outcome {
	if d.mailer == nil {
		return failure(name, ChannelEmail, "email channel not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.mailer.SendEmail(ctx, email, Subject, text, html); err != nil {
		d.logger.Warn("alert delivery failed", "channel", ChannelEmail, "contact", name, "error", err)
		return failure(name, ChannelEmail, fmt.Sprintf("failed email to %s: %v", name, err))
	}
	return Outcome{
		ContactName: name,
		Channel:     ChannelEmail,
		Success:     true,
		Detail:      fmt.Sprintf("Email sent to %s (%s)", name, email),
	}
}

func failure(name string, ch Channel, detail string) Outcome {
	return Outcome{ContactName: name, Channel: ch, Detail: detail}
}

func skipped(name string, ch Channel, detail string) Outcome {
	return Outcome{ContactName: name, Channel: ch, Skipped: true, Detail: detail}
}

func contactName(c store.Contact) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "Unknown contact"
}
