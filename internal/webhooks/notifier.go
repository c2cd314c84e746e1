package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type task struct {
	tenantID uuid.UUID
	event    enums.EventType
	data     json.RawMessage
	at       time.Time
}

// NotifierParams wires the notifier dependencies.
type NotifierParams struct {
	Tenancy    tenancy.Runner
	Repository *Repository
	Sender     Sender
	Sinks      []Sink
	Metrics    *metrics.WebhookMetrics
	Logger     *logger.Logger
	Config     config.WebhooksConfig
	Now        func() time.Time
}

// Notifier fans events out to subscribed endpoints from a bounded queue.
// Publish never blocks and never fails the caller.
type Notifier struct {
	deliverer
	sinks []Sink

	queue   chan task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewNotifier validates dependencies and starts the dispatch workers.
func NewNotifier(params NotifierParams) (*Notifier, error) {
	if params.Tenancy == nil {
		return nil, errors.New("tenancy runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("webhook repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Sender == nil {
		params.Sender = NewHTTPSender(params.Config.SendTimeout)
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	workers := params.Config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := params.Config.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		deliverer: deliverer{
			tenancy: params.Tenancy,
			repo:    params.Repository,
			sender:  params.Sender,
			metrics: params.Metrics,
			logg:    params.Logger,
			cfg:     params.Config,
			now:     params.Now,
		},
		sinks:   params.Sinks,
		queue:   make(chan task, size),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n, nil
}

// Publish snapshots payload and hands it to the workers. A full or closed
// queue drops the event.
func (n *Notifier) Publish(ctx context.Context, tenantID uuid.UUID, event enums.EventType, payload any) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"tenant_id": tenantID.String(),
		"event":     string(event),
	})
	data, err := json.Marshal(payload)
	if err != nil {
		n.logg.Error(logCtx, "webhook.dispatch.encode_failed", err)
		return
	}
	t := task{tenantID: tenantID, event: event, data: data, at: n.now()}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.metrics.IncDropped()
		n.logg.Warn(logCtx, "webhook.dispatch.closed")
		return
	}
	select {
	case n.queue <- t:
	default:
		n.metrics.IncDropped()
		n.logg.Warn(logCtx, "webhook.dispatch.queue_full")
	}
}

// Shutdown stops intake and waits for queued events to drain. When ctx ends
// first, in-flight sends are cancelled and ctx's error is returned.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for t := range n.queue {
		n.dispatch(n.baseCtx, t)
	}
}

func (n *Notifier) dispatch(ctx context.Context, t task) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"tenant_id": t.tenantID.String(),
		"event":     string(t.event),
	})
	body, err := encodeEnvelope(t.event, t.data, t.at)
	if err != nil {
		n.logg.Error(logCtx, "webhook.dispatch.encode_failed", err)
		return
	}

	endpoints, err := n.activeEndpoints(ctx, t.tenantID, t.event)
	if err != nil {
		n.logg.Error(logCtx, "webhook.dispatch.endpoints_failed", err)
	}
	for _, endpoint := range endpoints {
		if _, err := n.first(ctx, endpoint, t.event, body); err != nil {
			n.logg.Error(n.logg.WithField(logCtx, "endpoint_id", endpoint.ID.String()), "webhook.delivery.record_failed", err)
		}
	}

	msg := SinkMessage{TenantID: t.tenantID, Event: t.event, Data: t.data, Body: body}
	for _, sink := range n.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			n.logg.Warn(n.logg.WithFields(logCtx, map[string]any{
				"sink":  sink.Name(),
				"error": err.Error(),
			}), "webhook.sink.failed")
		}
	}
}
