package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNacked = errors.New("broker nacked publish")

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu sync.Mutex // serialises publishes on the shared channel
}

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
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish returns once the broker has confirmed the message. A nack is
// reported as ErrNacked.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: %w", key, ErrNacked)
	}
	return nil
}

// IsClosed reports whether the broker connection has gone away.
func (p *Publisher) IsClosed() bool {
	return p.conn == nil || p.conn.IsClosed()
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

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}
