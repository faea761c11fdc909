package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPChannel publishes notifications to an AMQP exchange, standing in for
// the "email"/"push" delivery channels spec.md §4.5 sketches as future
// work. Publishing is fire-and-forget: a downstream consumer (an email or
// push gateway, outside this module's scope) is expected to drain the
// queue. Grounded on AMQP's appearance in the pack's dependency set for
// exactly this kind of decoupled delivery fanout.
type AMQPChannel struct {
	name     Channel
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPChannel dials url and declares a fanout exchange named
// "notifications.<channel>".
func NewAMQPChannel(url string, channel Channel) (*AMQPChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: amqp channel: %w", err)
	}
	exchange := "notifications." + string(channel)
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: amqp exchange declare: %w", err)
	}
	return &AMQPChannel{name: channel, conn: conn, ch: ch, exchange: exchange}, nil
}

// Name returns the delivery channel this broker serves.
func (a *AMQPChannel) Name() Channel { return a.name }

// Deliver publishes n as JSON to the broker's exchange.
func (a *AMQPChannel) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return a.ch.Publish(a.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close tears down the channel and connection.
func (a *AMQPChannel) Close() error {
	if err := a.ch.Close(); err != nil {
		return err
	}
	return a.conn.Close()
}
