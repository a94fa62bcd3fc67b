// Package mail hands templated mail over to the external mailer through
// RabbitMQ.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageType is the envelope type consumed by the mailer
const MessageType = "mail.send"

var (
	ErrInvalidAddress = errors.New("mail: empty address")
	ErrNotDelivered   = errors.New("mail: no broker configured, mail not delivered")
)

// Config holds publisher configuration
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Meta identifies one envelope
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
}

// Envelope wraps a mail request on the wire
type Envelope struct {
	Meta Meta    `json:"meta"`
	Data Request `json:"data"`
}

// Request is what the mailer renders and delivers
type Request struct {
	To         string         `json:"to"`
	TemplateID string         `json:"template_id"`
	Data       map[string]any `json:"data"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Sender publishes mail requests. It implements integration.MailSender.
type Sender struct {
	conn       *amqp.Connection
	open       func() (publisher, error)
	exchange   string
	routingKey string
	logger     *zap.Logger
	now        func() time.Time
}

// NewSender dials RabbitMQ and declares the topic exchange
func NewSender(cfg Config, logger *zap.Logger) (*Sender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mail: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mail: open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mail: declare exchange: %w", err)
	}

	s := newSender(cfg, logger, func() (publisher, error) { return conn.Channel() })
	s.conn = conn
	return s, nil
}

func newSender(cfg Config, logger *zap.Logger, open func() (publisher, error)) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		open:       open,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.Named("mail"),
		now:        time.Now,
	}
}

// Send publishes one mail request. true means the broker accepted it.
func (s *Sender) Send(ctx context.Context, address, templateID string, data map[string]any) (bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return false, ErrInvalidAddress
	}

	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Type: MessageType,
			Time: s.now().UTC(),
		},
		Data: Request{To: address, TemplateID: templateID, Data: data},
	}
	body, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("mail: marshal envelope: %w", err)
	}

	ch, err := s.open()
	if err != nil {
		return false, fmt.Errorf("mail: open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Meta.ID,
		Type:         env.Meta.Type,
		Timestamp:    env.Meta.Time,
		Body:         body,
	})
	if err != nil {
		return false, fmt.Errorf("mail: publish: %w", err)
	}

	s.logger.Debug("Mail request published",
		zap.String("template_id", templateID),
		zap.String("message_id", env.Meta.ID),
	)
	return true, nil
}

// Close closes the broker connection
func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// LogSender only logs mail requests; used when no broker is configured.
// Unless simulate is set, every request is reported as not delivered.
type LogSender struct {
	logger   *zap.Logger
	simulate bool
}

// NewLogSender creates a sender that logs instead of publishing. simulate
// reports logged requests as delivered, for local development only.
func NewLogSender(logger *zap.Logger, simulate bool) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail"), simulate: simulate}
}

func (s *LogSender) Send(_ context.Context, address, templateID string, data map[string]any) (bool, error) {
	if strings.TrimSpace(address) == "" {
		return false, ErrInvalidAddress
	}
	s.logger.Info("Mail request (not delivered, no broker configured)",
		zap.String("to", address),
		zap.String("template_id", templateID),
		zap.Int("fields", len(data)),
		zap.Bool("simulated", s.simulate),
	)
	if !s.simulate {
		return false, ErrNotDelivered
	}
	return true, nil
}
