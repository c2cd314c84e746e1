package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/merchcoin-backend/internal/webhooks"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

type retryProcessor interface {
	ProcessRetries(ctx context.Context) (webhooks.RetryResult, error)
}

// WebhookRetryJobParams configure the webhook retry sweep.
type WebhookRetryJobParams struct {
	Logger    *logger.Logger
	Scheduler retryProcessor
}

// NewWebhookRetryJob builds the job that re-sends due webhook deliveries.
func NewWebhookRetryJob(params WebhookRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("retry scheduler required")
	}
	return &webhookRetryJob{logg: params.Logger, scheduler: params.Scheduler}, nil
}

type webhookRetryJob struct {
	logg      *logger.Logger
	scheduler retryProcessor
}

func (j *webhookRetryJob) Name() string { return "webhook-retry" }

func (j *webhookRetryJob) Run(ctx context.Context) error {
	result, err := j.scheduler.ProcessRetries(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	if err != nil {
		return fmt.Errorf("process webhook retries: %w", err)
	}
	j.logg.Info(logCtx, "webhook retry sweep complete")
	return nil
}
