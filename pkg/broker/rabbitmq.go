package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

const exchangeType = "topic"

type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	IsClosed() bool
	Close() error
}

type rabbitPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialRabbitMQ connects, declares a durable topic exchange and puts the
// channel in confirm mode so Publish returns only after the broker acks.
func DialRabbitMQ(url, exchange string) (Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rabbitmq url required")
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("rabbitmq exchange required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("could not open channel: %w", err), conn.Close())
	}
	if err := ch.ExchangeDeclare(exchange, exchangeType, true, false, false, false, nil); err != nil {
		return nil, multierr.Append(fmt.Errorf("could not declare exchange: %w", err), conn.Close())
	}
	if err := ch.Confirm(false); err != nil {
		return nil, multierr.Append(fmt.Errorf("could not enable confirms: %w", err), conn.Close())
	}
	return &rabbitPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string) *rabbitPublisher {
	return &rabbitPublisher{ch: ch, exchange: exchange}
}

func (p *rabbitPublisher) Name() string { return "rabbitmq" }

// Publish routes by topic; the event type is appended so consumers can bind
// per event, e.g. gs-order-events.order_fulfilled.
func (p *rabbitPublisher) Publish(ctx context.Context, msg Message) error {
	routingKey := msg.Topic
	if msg.Type != "" {
		routingKey = routingKey + "." + msg.Type
	}
	table := amqp.Table{}
	for k, v := range msg.Attributes {
		table[k] = v
	}
	if msg.Key != "" {
		table["aggregate_id"] = msg.Key
	}
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         msg.Body,
	})
	if err != nil {
		return err
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("rabbitmq nacked message %s", msg.ID)
	}
	return nil
}

func (p *rabbitPublisher) Ping(context.Context) error {
	if p.ch == nil || p.ch.IsClosed() {
		return errors.New("rabbitmq channel closed")
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
	}
	return err
}
