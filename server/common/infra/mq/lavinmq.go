// Package mq holds the AMQP (LavinMQ/RabbitMQ) connection helpers.
package mq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const heartbeat = 10 * time.Second

// NewConnection dials url and tags the connection with name so the broker UI
// shows which agent owns it.
func NewConnection(url, name string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, dialConfig(name))
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return conn, nil
}

func dialConfig(name string) amqp.Config {
	props := amqp.NewConnectionProperties()
	if name != "" {
		props.SetClientConnectionName(name)
	}
	return amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
}

// DeclareTopic declares a durable topic exchange on ch.
func DeclareTopic(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}
