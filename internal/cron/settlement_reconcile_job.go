package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/merchcoin-backend/internal/orders"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

type settlementReconciler interface {
	ReconcileSettlements(ctx context.Context) (orders.ReconcileResult, error)
}

// SettlementReconcileJobParams configure the settlement reconciliation sweep.
type SettlementReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler settlementReconciler
}

// NewSettlementReconcileJob builds the job that retries failed or stale
// settlements and completes interrupted refunds.
func NewSettlementReconcileJob(params SettlementReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("settlement reconciler required")
	}
	return &settlementReconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type settlementReconcileJob struct {
	logg       *logger.Logger
	reconciler settlementReconciler
}

func (j *settlementReconcileJob) Name() string { return "settlement-reconcile" }

func (j *settlementReconcileJob) Run(ctx context.Context) error {
	result, err := j.reconciler.ReconcileSettlements(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"settled":   result.Settled,
		"failed":    result.Failed,
		"abandoned": result.Abandoned,
		"refunded":  result.Refunded,
	})
	if err != nil {
		return fmt.Errorf("reconcile settlements: %w", err)
	}
	j.logg.Info(logCtx, "settlement reconcile complete")
	return nil
}
