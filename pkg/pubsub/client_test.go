package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/merchcoin-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/merchcoin-dev/topics/events", topicResourceName("merchcoin-dev", " events "))
	assert.Equal(t, "projects/other/topics/events", topicResourceName("merchcoin-dev", "projects/other/topics/events"))
	assert.Empty(t, topicResourceName("", "events"))
	assert.Empty(t, topicResourceName("merchcoin-dev", "  "))
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.PubSubConfig{EventsTopic: "events"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.PubSubConfig{ProjectID: "merchcoin-dev"}, nil)
	assert.ErrorIs(t, err, errTopicRequired)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	_, err := c.PublishEvent(context.Background(), []byte("{}"), nil)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(config.PubSubConfig{}))
	assert.Len(t, clientOptions(config.PubSubConfig{Endpoint: "us-east1-pubsub.googleapis.com:443"}), 1)
	assert.Len(t, clientOptions(config.PubSubConfig{
		Endpoint:        "us-east1-pubsub.googleapis.com:443",
		CredentialsFile: "/secrets/sa.json",
	}), 2)
}
