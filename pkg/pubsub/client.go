// Package pubsub publishes outbox events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoOrdersTopic     = errors.New("pubsub orders topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client caches one publisher per topic. Publishers batch in the background,
// so Close must run to flush them.
type Client struct {
	client    *pubsub.Client
	projectID string
	topic     string
	ordered   bool

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient fails fast when the orders topic is missing, rather than on the
// first publish.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topic := strings.TrimSpace(cfg.OrdersTopic)
	if topic == "" {
		return nil, errNoOrdersTopic
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  projectID,
		topic:      topic,
		ordered:    cfg.Ordered,
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{"topic": topic, "ordered": cfg.Ordered}), "pubsub client initialized")
	return c, nil
}

// Ping checks that the orders topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicResourceName(c.projectID, c.topic)})
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	case err != nil:
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
	return nil
}

func (c *Client) publisher(topic string) *pubsub.Publisher {
	name := topicResourceName(c.projectID, topic)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.publishers[name]
	if !ok {
		p = c.client.Publisher(name)
		p.EnableMessageOrdering = c.ordered
		c.publishers[name] = p
	}
	return p
}

// Publish sends data and waits for the server-assigned message id. With
// ordering enabled, key becomes the ordering key; after a failure the key is
// resumed so the outbox retry can go through.
func (c *Client) Publish(ctx context.Context, topic, key string, data []byte, attributes map[string]string) (string, error) {
	if c == nil || c.client == nil {
		return "", errNotInitialized
	}
	p := c.publisher(topic)
	if p == nil {
		return "", fmt.Errorf("publisher for topic %q unavailable", topic)
	}
	msg := &pubsub.Message{Data: data, Attributes: attributes}
	if c.ordered {
		msg.OrderingKey = key
	}
	id, err := p.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		p.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

// Close flushes pending batches and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, p := range c.publishers {
		p.Stop()
	}
	clear(c.publishers)
	c.mu.Unlock()
	return c.client.Close()
}

// topicResourceName expands a bare topic id; full resource names pass through.
func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case strings.TrimSpace(projectID) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(projectID) + "/topics/" + name
}
