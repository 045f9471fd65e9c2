// Package broker delivers outbox events to the configured message bus.
package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/pubsub"
)

// Message is one event ready for delivery.
type Message struct {
	ID         string
	Topic      string
	Key        string
	Type       string
	Body       []byte
	Attributes map[string]string
}

// Publisher sends messages synchronously; a nil error means the broker acknowledged.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds the publisher for cfg.Outbox.Sink.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Outbox.Sink)) {
	case config.OutboxSinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		return NewPubSub(client), nil
	case config.OutboxSinkKafka:
		return NewKafka(cfg.Kafka.Brokers)
	case config.OutboxSinkRabbitMQ:
		return DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	default:
		return nil, fmt.Errorf("unsupported outbox sink %q", cfg.Outbox.Sink)
	}
}

func headers(msg Message) map[string]string {
	out := make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		out[k] = v
	}
	if msg.ID != "" {
		out["event_id"] = msg.ID
	}
	if msg.Type != "" {
		out["event_type"] = msg.Type
	}
	return out
}
