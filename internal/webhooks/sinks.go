package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

// SinkMessage is one event handed to a best-effort sink.
type SinkMessage struct {
	TenantID uuid.UUID
	Event    enums.EventType
	Data     json.RawMessage
	Body     []byte
}

// Sink receives every published event after endpoint fan-out. Sinks keep no
// delivery records and are never retried.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg SinkMessage) error
}

const chatProviderSlack = "slack"

// ChatSink posts Slack-compatible messages to the tenant's chat integrations.
type ChatSink struct {
	tenancy tenancy.Runner
	repo    *Repository
	client  *http.Client
}

// NewChatSink builds a chat sink whose posts are bounded by timeout.
func NewChatSink(runner tenancy.Runner, repo *Repository, timeout time.Duration) *ChatSink {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &ChatSink{tenancy: runner, repo: repo, client: &http.Client{Timeout: timeout}}
}

func (s *ChatSink) Name() string { return "chat" }

func (s *ChatSink) Deliver(ctx context.Context, msg SinkMessage) error {
	var targets []string
	if err := s.tenancy.Run(ctx, msg.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).ListActiveChatIntegrations(ctx, msg.TenantID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Provider == chatProviderSlack && row.Subscribes(msg.Event) {
				targets = append(targets, row.WebhookURL)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": chatText(msg)})
	if err != nil {
		return err
	}
	var firstErr error
	for _, target := range targets {
		if err := s.post(ctx, target, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *ChatSink) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func chatText(msg SinkMessage) string {
	return fmt.Sprintf("*%s*\n```%s```", msg.Event, string(msg.Data))
}

// EventPublisher is the Pub/Sub surface used by the mirror sink.
type EventPublisher interface {
	PublishEvent(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// PubSubSink mirrors every event envelope onto a Pub/Sub topic.
type PubSubSink struct {
	publisher EventPublisher
	timeout   time.Duration
}

func NewPubSubSink(publisher EventPublisher) *PubSubSink {
	return &PubSubSink{publisher: publisher, timeout: 15 * time.Second}
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Deliver(ctx context.Context, msg SinkMessage) error {
	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.publisher.PublishEvent(publishCtx, msg.Body, map[string]string{
		"event_type": string(msg.Event),
		"tenant_id":  msg.TenantID.String(),
	})
	return err
}
