// Package mq carries domain events and deferred notification deliveries over
// a RabbitMQ topic exchange.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys published by the services.
const (
	RKQuoteAccepted  = "quote.accepted"
	RKPaymentPaid    = "payment.paid"
	RKPaymentFailed  = "payment.failed"
	RKRequestCreated = "request.created"
	RKDeliveryPrefix = "notification.deliver."
)

// Envelope wraps every published event.
type Envelope struct {
	Event      string          `json:"event"`
	Version    int             `json:"version"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher publishes JSON events on a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials url and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish wraps v in an Envelope and publishes it under key.
func (p *Publisher) Publish(ctx context.Context, key string, v interface{}) error {
	body, err := NewEnvelope(key, v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Connected reports whether the underlying connection is open.
func (p *Publisher) Connected() bool {
	return p != nil && p.conn != nil && !p.conn.IsClosed()
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NewEnvelope marshals v into an encoded Envelope.
func NewEnvelope(event string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Event:      event,
		Version:    1,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Data:       data,
	})
}

// Decode unmarshals an encoded Envelope and its payload into v.
func Decode(body []byte, v interface{}) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	if v != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return env, err
		}
	}
	return env, nil
}
