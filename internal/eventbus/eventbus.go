// Package eventbus publishes persisted SOS events so supervisor dashboards
// can react without polling the events endpoint.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"safetybuddy/internal/store"
)

const (
	DefaultQueue = "sos_events"

	EventCreated = "sos_event.created"
)

var ErrClosed = errors.New("event bus closed")

type Publisher interface {
	Publish(ctx context.Context, event store.SosEvent) error
	Close() error
}

// Message is the JSON body of every published delivery.
type Message struct {
	Type        string         `json:"type"`
	Event       store.SosEvent `json:"event"`
	PublishedAt time.Time      `json:"published_at"`
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, store.SosEvent) error { return nil }
func (Nop) Close() error                                  { return nil }

type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQP struct {
	conn   io.Closer
	ch     channel
	queue  string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// DialAMQP connects to the broker and declares a durable queue.
func DialAMQP(url, queue string, timeout time.Duration, logger *slog.Logger) (*AMQP, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare amqp queue %q: %w", queue, err)
	}
	bus := newAMQP(conn, ch, queue, logger)
	bus.logger.Info("connected to amqp", "queue", queue)
	return bus, nil
}

func newAMQP(conn io.Closer, ch channel, queue string, logger *slog.Logger) *AMQP {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQP{
		conn:   conn,
		ch:     ch,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

func (a *AMQP) Publish(ctx context.Context, event store.SosEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := a.now().UTC()
	body, err := json.Marshal(Message{Type: EventCreated, Event: event, PublishedAt: now})
	if err != nil {
		return fmt.Errorf("marshal sos event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	err = a.ch.Publish("", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         EventCreated,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish sos event %s: %w", event.ID, err)
	}
	a.logger.Debug("published sos event", "event_id", event.ID, "queue", a.queue)
	return nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return errors.Join(a.ch.Close(), a.conn.Close())
}
