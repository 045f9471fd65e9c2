package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer  messageWriter
	brokers []string
	dial    func(ctx context.Context, network, address string) (*kafka.Conn, error)
}

// NewKafka writes synchronously with acks from all in-sync replicas. Messages
// for one order share a key, so they land on one partition in order.
func NewKafka(brokers []string) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &kafkaPublisher{writer: w, brokers: brokers, dial: kafka.DialContext}, nil
}

func (p *kafkaPublisher) Name() string { return "kafka" }

func (p *kafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return errors.New("kafka topic required")
	}
	attrs := headers(msg)
	kh := make([]kafka.Header, 0, len(attrs))
	for k, v := range attrs {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Headers: kh,
		Time:    time.Now().UTC(),
	})
}

// Ping succeeds when any broker accepts a connection.
func (p *kafkaPublisher) Ping(ctx context.Context) error {
	var errs error
	for _, addr := range p.brokers {
		conn, err := p.dial(ctx, "tcp", addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("dial %s: %w", addr, err))
			continue
		}
		return conn.Close()
	}
	return errs
}

func (p *kafkaPublisher) Close() error { return p.writer.Close() }
