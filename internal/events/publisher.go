// Package events publishes resolved verifications to RabbitMQ so other
// services can react to new or returning users.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/tbourn/ndi-proof-backend/internal/correlation"
)

// VerificationEvent is the message body published for every resolved
// verification.
type VerificationEvent struct {
	ThreadID         string    `json:"thread_id"`
	ProviderThreadID string    `json:"provider_thread_id"`
	Outcome          string    `json:"verification_result"`
	IDNumber         string    `json:"id_number"`
	Name             string    `json:"name"`
	IsExistingUser   bool      `json:"is_existing_user"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// NewVerificationEvent extracts the event from a result using the given
// attribute names.
func NewVerificationEvent(r correlation.VerificationResult, idAttr, nameAttr string) VerificationEvent {
	return VerificationEvent{
		ThreadID:         r.LocalThreadID,
		ProviderThreadID: r.ProviderThreadID,
		Outcome:          r.Outcome,
		IDNumber:         r.UserAttributes[idAttr],
		Name:             r.UserAttributes[nameAttr],
		IsExistingUser:   r.IsExistingUser,
		RecordedAt:       r.RecordedAt,
	}
}

// Publisher emits verification events.
type Publisher interface {
	PublishVerification(ctx context.Context, ev VerificationEvent) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

// PublishVerification implements Publisher.
func (Nop) PublishVerification(context.Context, VerificationEvent) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes JSON events to a direct exchange.
type RabbitPublisher struct {
	conn       *amqp.Connection
	ch         channel
	Exchange   string
	RoutingKey string
	now        func() time.Time
}

// NewRabbitPublisher dials url and declares a durable direct exchange.
func NewRabbitPublisher(url, exchange, routingKey string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &RabbitPublisher{
		conn:       conn,
		ch:         ch,
		Exchange:   exchange,
		RoutingKey: routingKey,
		now:        time.Now,
	}, nil
}

// PublishVerification implements Publisher with persistent delivery.
func (r *RabbitPublisher) PublishVerification(ctx context.Context, ev VerificationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx,
		r.Exchange,
		r.RoutingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    r.now(),
			DeliveryMode: amqp.Persistent,
			Type:         "ndi.verification.resolved",
		},
	)
}

// Close closes the channel and the connection.
func (r *RabbitPublisher) Close() error {
	err := r.ch.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Open returns a RabbitPublisher when url is set and Nop otherwise.
func Open(url, exchange, routingKey string, logger zerolog.Logger) (Publisher, error) {
	if url == "" {
		logger.Info().Msg("AMQP_URL not set; verification events disabled")
		return Nop{}, nil
	}
	p, err := NewRabbitPublisher(url, exchange, routingKey)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("exchange", exchange).Str("routing_key", routingKey).Msg("verification events enabled")
	return p, nil
}
