package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
)

const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"

	maxStoredErrorBytes = 500
)

var errEndpointInactive = errors.New("endpoint inactive or deleted")

// deliverer owns one send attempt: the network call happens between two
// short units of work and never inside one.
type deliverer struct {
	tenancy tenancy.Runner
	repo    *Repository
	sender  Sender
	metrics *metrics.WebhookMetrics
	logg    *logger.Logger
	cfg     config.WebhooksConfig
	now     func() time.Time
}

// first persists a pending delivery with attempts=1, sends it and records the
// outcome.
func (d *deliverer) first(ctx context.Context, endpoint models.WebhookEndpoint, event enums.EventType, body []byte) (*models.WebhookDelivery, error) {
	now := d.now().UTC()
	delivery := &models.WebhookDelivery{
		TenantID:      endpoint.TenantID,
		EndpointID:    endpoint.ID,
		Event:         event,
		Payload:       datatypes.JSON(body),
		Status:        enums.DeliveryStatusPending,
		Attempts:      1,
		LastAttemptAt: &now,
	}
	if err := d.tenancy.Run(ctx, endpoint.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		return d.repo.WithTx(tx).CreateDelivery(ctx, delivery)
	}); err != nil {
		return nil, err
	}

	result := d.send(ctx, endpoint, delivery)
	return delivery, d.record(ctx, delivery, result)
}

// retry makes one more attempt on a claimed delivery. A missing or inactive
// endpoint counts as a failed attempt without a network call.
func (d *deliverer) retry(ctx context.Context, delivery *models.WebhookDelivery) (bool, error) {
	var endpoint *models.WebhookEndpoint
	if err := d.tenancy.Run(ctx, delivery.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		endpoint, err = d.repo.WithTx(tx).FindEndpoint(ctx, delivery.TenantID, delivery.EndpointID)
		return err
	}); err != nil {
		return false, err
	}

	now := d.now().UTC()
	delivery.Attempts++
	delivery.LastAttemptAt = &now

	var result SendResult
	if endpoint == nil || !endpoint.Active {
		result = SendResult{Err: errEndpointInactive}
	} else {
		result = d.send(ctx, *endpoint, delivery)
	}
	return result.OK(), d.record(ctx, delivery, result)
}

func (d *deliverer) send(ctx context.Context, endpoint models.WebhookEndpoint, delivery *models.WebhookDelivery) SendResult {
	return d.sender.Send(ctx, SendRequest{
		URL:        endpoint.URL,
		Secret:     endpoint.Secret,
		Event:      delivery.Event,
		DeliveryID: delivery.ID,
		Body:       delivery.Payload,
		Timestamp:  d.now(),
	})
}

// record stores the attempt outcome in its own unit of work.
func (d *deliverer) record(ctx context.Context, delivery *models.WebhookDelivery, result SendResult) error {
	updates := map[string]any{
		"attempts":        delivery.Attempts,
		"last_attempt_at": delivery.LastAttemptAt,
	}
	if result.StatusCode > 0 {
		status := result.StatusCode
		body := db.StorableText(result.Body, responseSnapshotSize)
		delivery.ResponseStatus = &status
		delivery.ResponseBody = &body
		updates["response_status"] = status
		updates["response_body"] = body
	}

	outcome := outcomeSuccess
	if result.OK() {
		delivery.Status = enums.DeliveryStatusSuccess
		delivery.NextRetryAt = nil
		delivery.LastError = nil
		updates["status"] = enums.DeliveryStatusSuccess
		updates["next_retry_at"] = nil
		updates["last_error"] = nil
	} else {
		failure := db.StorableText(result.Failure(), maxStoredErrorBytes)
		next := nextRetryAt(d.now(), delivery.Attempts, d.cfg.MaxAttempts, d.cfg.Backoff)
		delivery.Status = enums.DeliveryStatusFailed
		delivery.NextRetryAt = next
		delivery.LastError = &failure
		updates["status"] = enums.DeliveryStatusFailed
		updates["next_retry_at"] = next
		updates["last_error"] = failure

		outcome = outcomeFailed
		if next == nil {
			outcome = outcomeAbandoned
		}
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"tenant_id":   delivery.TenantID.String(),
			"endpoint_id": delivery.EndpointID.String(),
			"delivery_id": delivery.ID.String(),
			"event":       string(delivery.Event),
			"attempts":    delivery.Attempts,
			"status_code": result.StatusCode,
			"error":       failure,
		})
		d.logg.Warn(logCtx, "webhook.delivery.failed")
	}
	d.metrics.IncDelivery(outcome)

	return d.tenancy.Run(ctx, delivery.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		return d.repo.WithTx(tx).UpdateDelivery(ctx, delivery.ID, updates)
	})
}

func (d *deliverer) activeEndpoints(ctx context.Context, tenantID uuid.UUID, event enums.EventType) ([]models.WebhookEndpoint, error) {
	var endpoints []models.WebhookEndpoint
	err := d.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		rows, err := d.repo.WithTx(tx).ListActiveEndpoints(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Subscribes(event) {
				endpoints = append(endpoints, row)
			}
		}
		return nil
	})
	return endpoints, err
}
