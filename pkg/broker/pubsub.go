package broker

import (
	"context"
	"errors"
)

type pubsubClient interface {
	Publish(ctx context.Context, topic, key string, data []byte, attributes map[string]string) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

type pubsubPublisher struct {
	client pubsubClient
}

func NewPubSub(client pubsubClient) Publisher {
	return &pubsubPublisher{client: client}
}

func (p *pubsubPublisher) Name() string { return "pubsub" }

func (p *pubsubPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return errors.New("pubsub topic required")
	}
	_, err := p.client.Publish(ctx, msg.Topic, msg.Key, msg.Body, headers(msg))
	return err
}

func (p *pubsubPublisher) Ping(ctx context.Context) error { return p.client.Ping(ctx) }

func (p *pubsubPublisher) Close() error { return p.client.Close() }
