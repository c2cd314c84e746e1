// Package pubsub mirrors webhook events onto a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// OrderingKeyAttribute names the message attribute used as the ordering key
// when ordered delivery is enabled. Events for one tenant arrive in publish order.
const OrderingKeyAttribute = "tenant_id"

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	events    *pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub events topic is required")
)

// NewClient creates a Pub/Sub v2 client and ensures the events topic exists.
func NewClient(ctx context.Context, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.EventsTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: cfg.ProjectID,
		cfg:       cfg,
	}

	if err := c.ensureTopicExists(ctx, cfg.EventsTopic); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	c.events = psClient.Publisher(topicResourceName(cfg.ProjectID, cfg.EventsTopic))
	c.events.EnableMessageOrdering = cfg.Ordered

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

// clientOptions pins a regional endpoint, which ordered publishing needs to
// keep per-key order, and an explicit key file when one is configured.
func clientOptions(cfg config.PubSubConfig) []option.ClientOption {
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	return opts
}

func (c *Client) ensureTopicExists(ctx context.Context, name string) error {
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}

	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		// v2 uses gRPC errors; NotFound means the topic doesn't exist.
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

// PublishEvent publishes one event body to the events topic and waits for the
// server id.
func (c *Client) PublishEvent(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if c == nil || c.events == nil {
		return "", errors.New("pubsub client not initialized")
	}
	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if c.events.EnableMessageOrdering {
		msg.OrderingKey = attrs[OrderingKeyAttribute]
	}
	id, err := c.events.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			c.events.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Ping verifies Pub/Sub connectivity by checking the events topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureTopicExists(ctx, c.cfg.EventsTopic)
}

// Close flushes pending publishes and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.events != nil {
		c.events.Stop()
	}
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
