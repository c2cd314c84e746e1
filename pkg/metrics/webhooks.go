package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics tracks webhook delivery outcomes and dispatch backpressure.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
	dropped    prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook send attempts by outcome.",
	}, []string{"outcome"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_dispatch_dropped_total",
		Help: "Events dropped because the dispatch queue was full or closed.",
	})
	reg.MustRegister(deliveries, dropped)
	return &WebhookMetrics{deliveries: deliveries, dropped: dropped}
}

// IncDelivery records a send outcome (success, failed, abandoned).
func (m *WebhookMetrics) IncDelivery(outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDropped records an event that never reached the workers.
func (m *WebhookMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}
