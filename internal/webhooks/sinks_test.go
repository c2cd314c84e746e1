package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

func TestChatSinkPostsToSubscribedSlackIntegrations(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	var (
		mu     sync.Mutex
		bodies []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]string
		_ = json.Unmarshal(raw, &payload)
		mu.Lock()
		bodies = append(bodies, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	for _, integration := range []models.ChatIntegration{
		{TenantID: tenantID, Provider: "slack", WebhookURL: srv.URL, Events: datatypes.JSONSlice[string]{"order.created"}, Active: true},
		{TenantID: tenantID, Provider: "slack", WebhookURL: srv.URL, Events: datatypes.JSONSlice[string]{"currency.credited"}, Active: true},
		{TenantID: tenantID, Provider: "slack", WebhookURL: srv.URL, Events: datatypes.JSONSlice[string]{"*"}, Active: false},
	} {
		integration := integration
		require.NoError(t, f.conn.Create(&integration).Error)
	}

	sink := NewChatSink(f.guard, f.repo, time.Second)
	err := sink.Deliver(context.Background(), SinkMessage{
		TenantID: tenantID,
		Event:    enums.EventOrderCreated,
		Data:     json.RawMessage(`{"orderNumber":1}`),
	})
	require.NoError(t, err)

	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0]["text"], "order.created")
	assert.Contains(t, bodies[0]["text"], `{"orderNumber":1}`)
}

func TestChatSinkReportsReceiverErrors(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	integration := models.ChatIntegration{TenantID: tenantID, Provider: "slack", WebhookURL: srv.URL, Events: datatypes.JSONSlice[string]{"*"}, Active: true}
	require.NoError(t, f.conn.Create(&integration).Error)

	err := NewChatSink(f.guard, f.repo, time.Second).Deliver(context.Background(), SinkMessage{TenantID: tenantID, Event: enums.EventOrderApproved, Data: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

type fakeEventPublisher struct {
	data  []byte
	attrs map[string]string
	err   error
}

func (p *fakeEventPublisher) PublishEvent(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	p.data = data
	p.attrs = attrs
	return "msg-1", p.err
}

func TestPubSubSinkPublishesEnvelope(t *testing.T) {
	publisher := &fakeEventPublisher{}
	tenantID := uuid.New()
	body := []byte(`{"event":"currency.debited","data":{},"timestamp":"2026-01-02T12:00:00Z"}`)

	err := NewPubSubSink(publisher).Deliver(context.Background(), SinkMessage{TenantID: tenantID, Event: enums.EventCurrencyDebited, Body: body})
	require.NoError(t, err)
	assert.Equal(t, body, publisher.data)
	assert.Equal(t, map[string]string{"event_type": "currency.debited", "tenant_id": tenantID.String()}, publisher.attrs)

	publisher.err = errors.New("unavailable")
	require.Error(t, NewPubSubSink(publisher).Deliver(context.Background(), SinkMessage{TenantID: tenantID, Event: enums.EventCurrencyDebited, Body: body}))
}
