// ABOUTME: Cross-node message bus for the relay, backed by NATS
// ABOUTME: Lets a message reach a receiver connected to another relay node

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/halfattire/inbox/internal/realtime"
)

// DefaultSubject is the NATS subject relay nodes exchange messages on.
const DefaultSubject = "inbox.relay.messages"

// ErrBusClosed is returned by buses after Close.
var ErrBusClosed = errors.New("relay bus closed")

// Envelope wraps a message travelling between relay nodes.
type Envelope struct {
	Origin     string              `json:"origin"`
	ReceiverID string              `json:"receiverId"`
	Message    realtime.GetMessage `json:"message"`
}

// Bus carries envelopes between relay nodes.
type Bus interface {
	Publish(env Envelope) error
	// Subscribe registers handler and returns a function that cancels it.
	Subscribe(handler func(Envelope)) (func(), error)
	Close()
}

// NATSConfig configures a NATSBus.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSBus implements Bus on a NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSBus connects to cfg.URL.
func NewNATSBus(cfg NATSConfig, logger *slog.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay-bus")

	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	opts := []nats.Option{
		nats.Name("inbox-relay"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	return &NATSBus{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends env to every subscribed node.
func (b *NATSBus) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe delivers decoded envelopes to handler.
func (b *NATSBus) Subscribe(handler func(Envelope)) (func(), error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("dropping malformed envelope", "error", err)
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

var _ Bus = (*NATSBus)(nil)
