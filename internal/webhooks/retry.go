package webhooks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
)

const (
	defaultRetryBatch = 50
	defaultClaimLease = 2 * time.Minute
)

// RetryResult summarizes one sweep.
type RetryResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetrySchedulerParams wires the scheduler dependencies.
type RetrySchedulerParams struct {
	Tenancy    tenancy.Runner
	Repository *Repository
	Sender     Sender
	Metrics    *metrics.WebhookMetrics
	Logger     *logger.Logger
	Config     config.WebhooksConfig
	Now        func() time.Time
}

// RetryScheduler re-sends failed deliveries whose retry time has come.
type RetryScheduler struct {
	deliverer
}

func NewRetryScheduler(params RetrySchedulerParams) (*RetryScheduler, error) {
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
	if params.Config.BatchSize <= 0 {
		params.Config.BatchSize = defaultRetryBatch
	}
	if params.Config.ClaimLease <= 0 {
		params.Config.ClaimLease = defaultClaimLease
	}
	return &RetryScheduler{deliverer: deliverer{
		tenancy: params.Tenancy,
		repo:    params.Repository,
		sender:  params.Sender,
		metrics: params.Metrics,
		logg:    params.Logger,
		cfg:     params.Config,
		now:     params.Now,
	}}, nil
}

// ProcessRetries claims due deliveries and makes one more attempt on each.
// Concurrent sweeps never claim the same row.
func (s *RetryScheduler) ProcessRetries(ctx context.Context) (RetryResult, error) {
	var (
		result  RetryResult
		claimed []models.WebhookDelivery
	)
	now := s.now().UTC()
	err := s.tenancy.RunSystem(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		claimed, err = s.repo.WithTx(tx).ClaimDueRetries(ctx, now, s.cfg.MaxAttempts, s.cfg.BatchSize, now.Add(s.cfg.ClaimLease))
		return err
	})
	if err != nil {
		return result, err
	}

	var errs error
	for i := range claimed {
		delivery := claimed[i]
		result.Processed++
		ok, err := s.retry(ctx, &delivery)
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if result.Processed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"processed": result.Processed,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		}), "webhook.retry.sweep")
	}
	return result, errs
}
