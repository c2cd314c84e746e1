package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/ledger"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

const (
	reconcileActor      = "system:settlement-reconcile"
	maxStoredErrorBytes = 500
)

// DebitKey is the ledger idempotency key of an order's settlement debit.
func DebitKey(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:debit", orderID)
}

// RefundKey is the ledger idempotency key of an order's cancellation refund.
func RefundKey(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:refund", orderID)
}

func orderReference(orderID uuid.UUID) *string {
	ref := fmt.Sprintf("order:%s", orderID)
	return &ref
}

// Settle debits the buyer for the order total. It is safe to repeat: a
// settled or voided order is returned untouched and the debit is keyed by
// the order id. A cancelled order is voided without a debit.
func (s *service) Settle(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	var (
		order     *models.Order
		attempted bool
	)
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = lockExisting(ctx, repo, tenantID, orderID)
		if err != nil {
			return err
		}
		switch {
		case order.SettlementStatus == enums.SettlementStatusSettled,
			order.SettlementStatus == enums.SettlementStatusVoided:
			return nil
		case order.Status == enums.OrderStatusCancelled:
			order.SettlementStatus = enums.SettlementStatusVoided
			return repo.UpdateOrder(ctx, order.ID, map[string]any{"settlement_status": enums.SettlementStatusVoided})
		}

		attempted = true
		updates := map[string]any{
			"settlement_status":   enums.SettlementStatusSettled,
			"settlement_attempts": order.SettlementAttempts + 1,
			"settlement_error":    nil,
		}
		if order.TotalCost > 0 {
			result, err := s.ledger.Debit(ctx, ledger.EntryInput{
				TenantID:       tenantID,
				UserID:         order.BuyerID,
				Amount:         order.TotalCost,
				Reason:         fmt.Sprintf("Order #%d", order.OrderNumber),
				PerformedBy:    order.BuyerID.String(),
				Reference:      orderReference(order.ID),
				IdempotencyKey: DebitKey(order.ID),
			})
			if err != nil {
				return err
			}
			updates["debit_transaction_id"] = result.TransactionID
			order.DebitTransactionID = &result.TransactionID
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return err
		}
		order.SettlementStatus = enums.SettlementStatusSettled
		order.SettlementAttempts++
		order.SettlementError = nil
		return nil
	})
	if err == nil {
		return order, nil
	}
	if !attempted {
		return nil, err
	}
	return nil, s.recordSettlementFailure(ctx, tenantID, orderID, err)
}

// recordSettlementFailure persists the failed attempt in its own unit of work
// and raises the alert signals. The returned error carries the order id.
func (s *service) recordSettlementFailure(ctx context.Context, tenantID, orderID uuid.UUID, cause error) error {
	s.metrics.IncSettlementFailure()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id": tenantID.String(),
		"order_id":  orderID.String(),
	})
	s.logg.Error(logCtx, "settlement.phase2.failed", cause)

	message := db.StorableText(cause.Error(), maxStoredErrorBytes)
	recordErr := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := lockExisting(ctx, repo, tenantID, orderID)
		if err != nil {
			return err
		}
		if order.SettlementStatus == enums.SettlementStatusSettled || order.SettlementStatus == enums.SettlementStatusVoided {
			return nil
		}
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"settlement_status":   enums.SettlementStatusFailed,
			"settlement_attempts": order.SettlementAttempts + 1,
			"settlement_error":    message,
		}); err != nil {
			return err
		}
		order.SettlementStatus = enums.SettlementStatusFailed
		order.SettlementAttempts++
		s.publishAfterCommit(ctx, order, enums.EventOrderSettlementFailed, message)
		return nil
	})
	if recordErr != nil {
		s.logg.Error(logCtx, "settlement.phase2.record_failed", recordErr)
	}
	return withOrderDetails(cause, orderID)
}

// refund credits the buyer for a cancelled, settled order and records the
// refund transaction on the order.
func (s *service) refund(ctx context.Context, order *models.Order) error {
	if order.TotalCost <= 0 {
		return nil
	}
	result, err := s.ledger.Credit(ctx, ledger.EntryInput{
		TenantID:       order.TenantID,
		UserID:         order.BuyerID,
		Amount:         order.TotalCost,
		Reason:         fmt.Sprintf("Refund for order #%d", order.OrderNumber),
		PerformedBy:    stringOr(order.CancelledBy, reconcileActor),
		Reference:      orderReference(order.ID),
		IdempotencyKey: RefundKey(order.ID),
	})
	if err == nil {
		err = s.tenancy.Run(ctx, order.TenantID, func(ctx context.Context, tx *gorm.DB) error {
			return s.repo.WithTx(tx).UpdateOrder(ctx, order.ID, map[string]any{"refund_transaction_id": result.TransactionID})
		})
	}
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"tenant_id": order.TenantID.String(),
			"order_id":  order.ID.String(),
		})
		s.logg.Error(logCtx, "order.refund.failed", err)
		return withOrderDetails(err, order.ID)
	}
	order.RefundTransactionID = &result.TransactionID
	return nil
}

// ReconcileSettlements retries failed or stale settlements, abandons those
// past the attempt ceiling by cancelling them, and completes refunds that
// were interrupted after a cancel committed.
func (s *service) ReconcileSettlements(ctx context.Context) (ReconcileResult, error) {
	var (
		result     ReconcileResult
		candidates []models.Order
		refunds    []models.Order
	)
	staleBefore := s.now().Add(-s.settlement.PendingGrace)
	err := s.tenancy.RunSystem(ctx, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if candidates, err = repo.ListSettlementCandidates(ctx, staleBefore, s.settlement.BatchSize); err != nil {
			return err
		}
		refunds, err = repo.ListPendingRefunds(ctx, s.settlement.BatchSize)
		return err
	})
	if err != nil {
		return result, err
	}

	var errs error
	for i := range candidates {
		order := candidates[i]
		result.Scanned++
		if order.SettlementAttempts >= s.settlement.MaxAttempts {
			if !CanTransition(order.Status, enums.OrderStatusCancelled) {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"tenant_id": order.TenantID.String(),
					"order_id":  order.ID.String(),
					"status":    string(order.Status),
				})
				s.logg.Warn(logCtx, "settlement.reconcile.stuck")
				continue
			}
			if _, err := s.Cancel(ctx, CancelInput{TenantID: order.TenantID, OrderID: order.ID, CancelledBy: reconcileActor}); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			result.Abandoned++
			continue
		}
		if _, err := s.Settle(ctx, order.TenantID, order.ID); err != nil {
			result.Failed++
			if !isSettlementRejection(err) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		result.Settled++
	}

	for i := range refunds {
		order := refunds[i]
		result.Scanned++
		if err := s.refund(ctx, &order); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		result.Refunded++
	}
	return result, errs
}

// isSettlementRejection reports business failures that are already recorded
// on the order and need no escalation from the sweep.
func isSettlementRejection(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance)
}

func withOrderDetails(err error, orderID uuid.UUID) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order settlement failed").
			WithDetails(map[string]any{"order_id": orderID.String()})
	}
	details := map[string]any{"order_id": orderID.String()}
	if existing, ok := typed.Details().(map[string]any); ok {
		for k, v := range existing {
			details[k] = v
		}
	}
	return pkgerrors.Wrap(typed.Code(), err, typed.Message()).WithDetails(details)
}

func stringOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}
