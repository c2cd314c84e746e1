package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
)

var fixedNow = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu    sync.Mutex
	calls []SendRequest
	send  func(ctx context.Context, req SendRequest) SendResult
}

func (f *fakeSender) Send(ctx context.Context, req SendRequest) SendResult {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.send != nil {
		return f.send(ctx, req)
	}
	return SendResult{StatusCode: http.StatusOK, Body: "ok"}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	mu       sync.Mutex
	messages []SinkMessage
	err      error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, msg SinkMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}

type fixture struct {
	conn  *gorm.DB
	guard *tenancy.Guard
	repo  *Repository
	logg  *logger.Logger
	cfg   config.WebhooksConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:webhooks_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(conn))

	guard, err := tenancy.NewGuard(db.Wrap(conn))
	require.NoError(t, err)
	return &fixture{
		conn:  conn,
		guard: guard,
		repo:  NewRepository(conn),
		logg:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		cfg: config.WebhooksConfig{
			SendTimeout: time.Second,
			MaxAttempts: 3,
			Backoff:     []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute},
			BatchSize:   10,
			ClaimLease:  2 * time.Minute,
			Workers:     2,
			QueueSize:   16,
		},
	}
}

func (f *fixture) notifier(t *testing.T, sender Sender, reg prometheus.Registerer, sinks ...Sink) *Notifier {
	t.Helper()
	n, err := NewNotifier(NotifierParams{
		Tenancy:    f.guard,
		Repository: f.repo,
		Sender:     sender,
		Sinks:      sinks,
		Metrics:    metrics.NewWebhookMetrics(reg),
		Logger:     f.logg,
		Config:     f.cfg,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) endpoint(t *testing.T, tenantID uuid.UUID, url string, active bool, events ...string) models.WebhookEndpoint {
	t.Helper()
	endpoint := models.WebhookEndpoint{
		TenantID: tenantID,
		URL:      url,
		Secret:   "whsec_" + uuid.NewString(),
		Events:   datatypes.JSONSlice[string](events),
		Active:   active,
	}
	require.NoError(t, f.repo.CreateEndpoint(context.Background(), &endpoint))
	return endpoint
}

func (f *fixture) deliveries(t *testing.T, endpointID uuid.UUID) []models.WebhookDelivery {
	t.Helper()
	var rows []models.WebhookDelivery
	require.NoError(t, f.conn.Where("endpoint_id = ?", endpointID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func drain(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if outcome == "" {
				return metric.GetCounter().GetValue()
			}
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestNotifierDeliversSignedEnvelopeToSubscribedEndpoints(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	type received struct {
		path    string
		headers http.Header
		body    []byte
	}
	var (
		mu   sync.Mutex
		hits []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		hits = append(hits, received{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		mu.Unlock()
		_, _ = w.Write([]byte("thanks"))
	}))
	defer srv.Close()

	exact := f.endpoint(t, tenantID, srv.URL+"/exact", true, "order.created")
	wildcard := f.endpoint(t, tenantID, srv.URL+"/wildcard", true, "*")
	other := f.endpoint(t, tenantID, srv.URL+"/other", true, "currency.credited")
	inactive := f.endpoint(t, tenantID, srv.URL+"/inactive", false, "*")
	foreign := f.endpoint(t, uuid.New(), srv.URL+"/foreign", true, "*")

	reg := prometheus.NewRegistry()
	n := f.notifier(t, NewHTTPSender(time.Second), reg)
	n.Publish(context.Background(), tenantID, enums.EventOrderCreated, map[string]any{"orderNumber": 7})
	drain(t, n)

	secrets := map[string]string{"/exact": exact.Secret, "/wildcard": wildcard.Secret}
	require.Len(t, hits, 2)
	for _, hit := range hits {
		secret, ok := secrets[hit.path]
		require.True(t, ok, "unexpected receiver %s", hit.path)
		assert.True(t, Verify(secret, hit.headers.Get(HeaderSignature), hit.headers.Get(HeaderTimestamp), hit.body))
		assert.Equal(t, "order.created", hit.headers.Get(HeaderEvent))
		assert.Equal(t, "1767355200", hit.headers.Get(HeaderTimestamp))
		assert.NotEmpty(t, hit.headers.Get(HeaderDeliveryID))

		var envelope Envelope
		require.NoError(t, json.Unmarshal(hit.body, &envelope))
		assert.Equal(t, enums.EventOrderCreated, envelope.Event)
		assert.JSONEq(t, `{"orderNumber":7}`, string(envelope.Data))
		assert.True(t, fixedNow.Equal(envelope.Timestamp))
	}

	for _, endpoint := range []models.WebhookEndpoint{exact, wildcard} {
		rows := f.deliveries(t, endpoint.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, enums.DeliveryStatusSuccess, rows[0].Status)
		assert.Equal(t, 1, rows[0].Attempts)
		assert.Nil(t, rows[0].NextRetryAt)
		require.NotNil(t, rows[0].ResponseStatus)
		assert.Equal(t, http.StatusOK, *rows[0].ResponseStatus)
		require.NotNil(t, rows[0].ResponseBody)
		assert.Equal(t, "thanks", *rows[0].ResponseBody)
	}
	for _, endpoint := range []models.WebhookEndpoint{other, inactive, foreign} {
		assert.Empty(t, f.deliveries(t, endpoint.ID))
	}
	assert.Equal(t, float64(2), counterValue(t, reg, "webhook_deliveries_total", "success"))
}

func TestNotifierRecordsFailureForDeferredRetry(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	endpoint := f.endpoint(t, tenantID, "https://receiver.test/hook", true, "*")

	sender := &fakeSender{send: func(context.Context, SendRequest) SendResult {
		return SendResult{StatusCode: http.StatusInternalServerError, Body: "boom"}
	}}
	n := f.notifier(t, sender, nil)
	n.Publish(context.Background(), tenantID, enums.EventCurrencyCredited, map[string]any{"amount": 5})
	drain(t, n)

	require.Equal(t, 1, sender.count())
	rows := f.deliveries(t, endpoint.ID)
	require.Len(t, rows, 1)
	delivery := rows[0]
	assert.Equal(t, enums.DeliveryStatusFailed, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)
	require.NotNil(t, delivery.NextRetryAt)
	assert.True(t, fixedNow.Add(time.Minute).Equal(*delivery.NextRetryAt))
	require.NotNil(t, delivery.LastError)
	assert.Equal(t, "unexpected status 500", *delivery.LastError)
	require.NotNil(t, delivery.ResponseBody)
	assert.Equal(t, "boom", *delivery.ResponseBody)
	assert.JSONEq(t, string(sender.calls[0].Body), string(delivery.Payload))
}

func TestNotifierTransportErrorIsCapturedNotRaised(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	endpoint := f.endpoint(t, tenantID, "https://receiver.test/hook", true, "*")

	sender := &fakeSender{send: func(context.Context, SendRequest) SendResult {
		return SendResult{Err: errors.New("dial tcp: connection refused")}
	}}
	n := f.notifier(t, sender, nil)
	n.Publish(context.Background(), tenantID, enums.EventOrderCancelled, map[string]any{})
	drain(t, n)

	rows := f.deliveries(t, endpoint.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.DeliveryStatusFailed, rows[0].Status)
	assert.Nil(t, rows[0].ResponseStatus)
	require.NotNil(t, rows[0].LastError)
	assert.Contains(t, *rows[0].LastError, "connection refused")
}

func TestNotifierDropsWhenQueueIsFull(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 1
	f.cfg.QueueSize = 1
	tenantID := uuid.New()
	f.endpoint(t, tenantID, "https://receiver.test/hook", true, "*")

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	sender := &fakeSender{send: func(context.Context, SendRequest) SendResult {
		started <- struct{}{}
		<-release
		return SendResult{StatusCode: http.StatusOK}
	}}
	reg := prometheus.NewRegistry()
	n := f.notifier(t, sender, reg)

	n.Publish(context.Background(), tenantID, enums.EventOrderCreated, map[string]any{"n": 1})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the first event")
	}
	n.Publish(context.Background(), tenantID, enums.EventOrderCreated, map[string]any{"n": 2})
	n.Publish(context.Background(), tenantID, enums.EventOrderCreated, map[string]any{"n": 3})

	assert.Equal(t, float64(1), counterValue(t, reg, "webhook_dispatch_dropped_total", ""))
	close(release)
	drain(t, n)
	assert.Equal(t, 2, sender.count())
}

func TestNotifierShutdownStopsIntake(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	f.endpoint(t, tenantID, "https://receiver.test/hook", true, "*")

	sender := &fakeSender{}
	reg := prometheus.NewRegistry()
	n := f.notifier(t, sender, reg)
	drain(t, n)

	n.Publish(context.Background(), tenantID, enums.EventOrderCreated, map[string]any{})
	assert.Equal(t, 0, sender.count())
	assert.Equal(t, float64(1), counterValue(t, reg, "webhook_dispatch_dropped_total", ""))
	require.NoError(t, n.Shutdown(context.Background()))
}

func TestNotifierShutdownHonoursDeadline(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	f.endpoint(t, tenantID, "https://receiver.test/hook", true, "*")

	sender := &fakeSender{send: func(ctx context.Context, _ SendRequest) SendResult {
		<-ctx.Done()
		return SendResult{Err: ctx.Err()}
	}}
	n := f.notifier(t, sender, nil)
	n.Publish(context.Background(), tenantID, enums.EventOrderCreated, map[string]any{})
	require.Eventually(t, func() bool { return sender.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := n.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNotifierFansOutToSinksAndSwallowsSinkErrors(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	failing := &recordingSink{err: errors.New("sink offline")}
	healthy := &recordingSink{}
	n := f.notifier(t, &fakeSender{}, nil, failing, healthy)
	n.Publish(context.Background(), tenantID, enums.EventCurrencyDistributed, map[string]any{"count": 2})
	drain(t, n)

	require.Len(t, failing.messages, 1)
	require.Len(t, healthy.messages, 1)
	msg := healthy.messages[0]
	assert.Equal(t, tenantID, msg.TenantID)
	assert.Equal(t, enums.EventCurrencyDistributed, msg.Event)
	assert.JSONEq(t, `{"count":2}`, string(msg.Data))

	var envelope Envelope
	require.NoError(t, json.Unmarshal(msg.Body, &envelope))
	assert.Equal(t, enums.EventCurrencyDistributed, envelope.Event)
}

func TestNotifierSnapshotsPayloadAtPublish(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	sink := &recordingSink{}
	n := f.notifier(t, &fakeSender{}, nil, sink)
	payload := map[string]any{"amount": 1}
	n.Publish(context.Background(), tenantID, enums.EventCurrencyCredited, payload)
	payload["amount"] = 99
	drain(t, n)

	require.Len(t, sink.messages, 1)
	assert.JSONEq(t, `{"amount":1}`, string(sink.messages[0].Data))
}
