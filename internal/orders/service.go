package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/catalog"
	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/config"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

const maxOrderLines = 100

// Service places orders, settles them against the ledger and drives the
// order status machine.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*PlaceResult, error)
	Settle(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	Approve(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	Fulfill(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	Get(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, params ListParams) (*OrderList, error)
	ReconcileSettlements(ctx context.Context) (ReconcileResult, error)
}

// ServiceParams groups the order service dependencies.
type ServiceParams struct {
	Tenancy    tenancy.Runner
	Repository Repository
	Catalog    *catalog.Repository
	Ledger     Ledger
	Publisher  EventPublisher
	Metrics    *metrics.LedgerMetrics
	Logger     *logger.Logger
	Settlement config.SettlementConfig
	Now        func() time.Time
}

type service struct {
	tenancy    tenancy.Runner
	repo       Repository
	catalog    *catalog.Repository
	ledger     Ledger
	publisher  EventPublisher
	metrics    *metrics.LedgerMetrics
	logg       *logger.Logger
	settlement config.SettlementConfig
	now        func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Tenancy == nil {
		return nil, fmt.Errorf("tenancy runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	settlement := params.Settlement
	if settlement.MaxAttempts <= 0 {
		settlement.MaxAttempts = 5
	}
	if settlement.BatchSize <= 0 {
		settlement.BatchSize = 25
	}
	if settlement.PendingGrace <= 0 {
		settlement.PendingGrace = 2 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tenancy:    params.Tenancy,
		repo:       params.Repository,
		catalog:    params.Catalog,
		ledger:     params.Ledger,
		publisher:  params.Publisher,
		metrics:    params.Metrics,
		logg:       params.Logger,
		settlement: settlement,
		now:        now,
	}, nil
}

// stockKey identifies the counter a line draws from.
type stockKey struct {
	variant bool
	id      uuid.UUID
}

type stockDemand struct {
	label     string
	requested int64
	available int64
}

// Place commits the order and its stock decrement, then settles it against
// the buyer's balance in a separate unit of work. A settlement failure is
// returned to the caller while the order stays committed.
func (s *service) Place(ctx context.Context, input PlaceInput) (*PlaceResult, error) {
	if input.TenantID == uuid.Nil || input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and buyer id are required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if len(input.Lines) > maxOrderLines {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "too many order lines").
			WithDetails(map[string]any{"max": maxOrderLines})
	}
	for _, line := range input.Lines {
		if line.ItemID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
	}

	var order *models.Order
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		order, err = s.placeOrder(ctx, tx, input)
		if err != nil {
			return err
		}
		s.publishAfterCommit(ctx, order, enums.EventOrderCreated, "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &PlaceResult{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		TotalCost:        order.TotalCost,
		SettlementStatus: order.SettlementStatus,
	}
	settled, err := s.Settle(ctx, input.TenantID, order.ID)
	if err != nil {
		return result, err
	}
	result.SettlementStatus = settled.SettlementStatus
	return result, nil
}

func (s *service) placeOrder(ctx context.Context, tx *gorm.DB, input PlaceInput) (*models.Order, error) {
	catalogRepo := s.catalog.WithTx(tx)
	repo := s.repo.WithTx(tx)

	itemIDs, variantIDs := lockTargets(input.Lines)
	items, err := catalogRepo.LockItems(ctx, input.TenantID, itemIDs)
	if err != nil {
		return nil, err
	}
	variants, err := catalogRepo.LockVariants(ctx, input.TenantID, variantIDs)
	if err != nil {
		return nil, err
	}

	demand := map[stockKey]*stockDemand{}
	var demandOrder []stockKey
	lines := make([]models.OrderLine, 0, len(input.Lines))
	var total int64
	for _, in := range input.Lines {
		item := items[in.ItemID]
		if item == nil || !item.Active {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found").
				WithDetails(map[string]any{"item_id": in.ItemID.String()})
		}
		var variant *models.CatalogVariant
		if in.VariantID != nil {
			variant = variants[*in.VariantID]
			if variant == nil || variant.ItemID != item.ID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found").
					WithDetails(map[string]any{"item_id": in.ItemID.String(), "variant_id": in.VariantID.String()})
			}
		}

		if stock := catalog.EffectiveStock(item, variant); stock != nil {
			key := stockKey{id: item.ID}
			if variant != nil && variant.Stock != nil {
				key = stockKey{variant: true, id: variant.ID}
			}
			d, ok := demand[key]
			if !ok {
				d = &stockDemand{label: lineLabel(item, variant), available: *stock}
				demand[key] = d
				demandOrder = append(demandOrder, key)
			}
			d.requested += in.Quantity
		}

		price := catalog.EffectivePrice(item, variant)
		if price > 0 && in.Quantity > maxInt64/price {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line total overflows")
		}
		lineTotal := price * in.Quantity
		if total > maxInt64-lineTotal {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total overflows")
		}
		total += lineTotal
		lines = append(lines, snapshotLine(input.TenantID, item, variant, price, in.Quantity, lineTotal))
	}

	for _, key := range demandOrder {
		d := demand[key]
		if d.requested > d.available {
			return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
				WithDetails(map[string]any{"label": d.label, "requested": d.requested, "available": d.available})
		}
	}

	tenant, err := repo.LockTenant(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
	}
	latest, err := repo.MaxOrderNumber(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		TenantID:         input.TenantID,
		OrderNumber:      latest + 1,
		BuyerID:          input.BuyerID,
		Status:           enums.OrderStatusPending,
		TotalCost:        total,
		SettlementStatus: enums.SettlementStatusPending,
		Lines:            lines,
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	for _, key := range demandOrder {
		qty := demand[key].requested
		if key.variant {
			err = catalogRepo.AdjustVariantStock(ctx, key.id, -qty)
		} else {
			err = catalogRepo.AdjustItemStock(ctx, key.id, -qty)
		}
		if err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (s *service) Approve(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, tenantID, orderID, enums.OrderStatusApproved, enums.EventOrderApproved)
}

func (s *service) Fulfill(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, tenantID, orderID, enums.OrderStatusFulfilled, enums.EventOrderFulfilled)
}

func (s *service) transition(ctx context.Context, tenantID, orderID uuid.UUID, to enums.OrderStatus, event enums.EventType) (*models.Order, error) {
	var order *models.Order
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = lockExisting(ctx, repo, tenantID, orderID)
		if err != nil {
			return err
		}
		if err := ensureTransition(order.Status, to); err != nil {
			return err
		}
		now := s.now().UTC()
		updates := map[string]any{"status": to}
		switch to {
		case enums.OrderStatusApproved:
			updates["approved_at"] = now
			order.ApprovedAt = &now
		case enums.OrderStatusFulfilled:
			updates["fulfilled_at"] = now
			order.FulfilledAt = &now
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return err
		}
		order.Status = to
		s.publishAfterCommit(ctx, order, event, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel restores finite stock and cancels the order. A settled order is
// refunded after the cancel commits; an unsettled one is voided instead.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	if input.TenantID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and order id are required")
	}
	cancelledBy := strings.TrimSpace(input.CancelledBy)
	if cancelledBy == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancelled by is required")
	}

	var order *models.Order
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		order, err = s.cancelOrder(ctx, tx, input.TenantID, input.OrderID, cancelledBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	if order.SettlementStatus == enums.SettlementStatusSettled {
		if err := s.refund(ctx, order); err != nil {
			return order, err
		}
	}
	return order, nil
}

func (s *service) cancelOrder(ctx context.Context, tx *gorm.DB, tenantID, orderID uuid.UUID, cancelledBy string) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	order, err := lockExisting(ctx, repo, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if err := ensureTransition(order.Status, enums.OrderStatusCancelled); err != nil {
		return nil, err
	}
	if err := s.restoreStock(ctx, tx, tenantID, order.Lines); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]any{
		"status":       enums.OrderStatusCancelled,
		"cancelled_at": now,
		"cancelled_by": cancelledBy,
	}
	if order.SettlementStatus != enums.SettlementStatusSettled {
		updates["settlement_status"] = enums.SettlementStatusVoided
		order.SettlementStatus = enums.SettlementStatusVoided
	}
	if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelledBy = &cancelledBy
	s.publishAfterCommit(ctx, order, enums.EventOrderCancelled, "")
	return order, nil
}

// restoreStock returns each line's quantity to the counter that currently
// governs it, locking rows in the same order as placement.
func (s *service) restoreStock(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, lines []models.OrderLine) error {
	catalogRepo := s.catalog.WithTx(tx)
	inputs := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, LineInput{ItemID: line.ItemID, VariantID: line.VariantID, Quantity: line.Quantity})
	}
	itemIDs, variantIDs := lockTargets(inputs)
	items, err := catalogRepo.LockItems(ctx, tenantID, itemIDs)
	if err != nil {
		return err
	}
	variants, err := catalogRepo.LockVariants(ctx, tenantID, variantIDs)
	if err != nil {
		return err
	}

	for _, line := range inputs {
		var variant *models.CatalogVariant
		if line.VariantID != nil {
			variant = variants[*line.VariantID]
		}
		if variant != nil && variant.Stock != nil {
			if err := catalogRepo.AdjustVariantStock(ctx, variant.ID, line.Quantity); err != nil {
				return err
			}
			continue
		}
		// Items deleted since purchase have nothing to restore.
		if item := items[line.ItemID]; item != nil && item.Stock != nil {
			if err := catalogRepo.AdjustItemStock(ctx, item.ID, line.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		order, err = s.repo.WithTx(tx).FindOrder(ctx, tenantID, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*OrderList, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if _, err := pagination.ParseCursor(params.Page.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list := &OrderList{}
	err := s.tenancy.Run(ctx, params.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		rows, next, err := s.repo.WithTx(tx).ListOrders(ctx, params.TenantID, params.BuyerID, params.Page)
		if err != nil {
			return err
		}
		list.Orders = rows
		list.NextCursor = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *service) publishAfterCommit(ctx context.Context, order *models.Order, event enums.EventType, reason string) {
	if s.publisher == nil {
		return
	}
	payload := newOrderEvent(order, s.now())
	payload.Error = reason
	tenantID := order.TenantID
	tenancy.AfterCommit(ctx, func() {
		s.publisher.Publish(context.WithoutCancel(ctx), tenantID, event, payload)
	})
}

func lockExisting(ctx context.Context, repo Repository, tenantID, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.LockOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// lockTargets returns the distinct item and variant ids sorted ascending.
func lockTargets(lines []LineInput) ([]uuid.UUID, []uuid.UUID) {
	itemSet := map[uuid.UUID]struct{}{}
	variantSet := map[uuid.UUID]struct{}{}
	for _, line := range lines {
		itemSet[line.ItemID] = struct{}{}
		if line.VariantID != nil {
			variantSet[*line.VariantID] = struct{}{}
		}
	}
	return sortedIDs(itemSet), sortedIDs(variantSet)
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func lineLabel(item *models.CatalogItem, variant *models.CatalogVariant) string {
	if variant == nil {
		return item.Name
	}
	return item.Name + " / " + variant.Name
}

func snapshotLine(tenantID uuid.UUID, item *models.CatalogItem, variant *models.CatalogVariant, price, qty, lineTotal int64) models.OrderLine {
	line := models.OrderLine{
		TenantID:  tenantID,
		ItemID:    item.ID,
		ItemName:  item.Name,
		UnitPrice: price,
		Quantity:  qty,
		LineTotal: lineTotal,
	}
	if variant != nil {
		variantID := variant.ID
		variantName := variant.Name
		line.VariantID = &variantID
		line.VariantName = &variantName
		if len(variant.Options) > 0 {
			line.Options = datatypes.JSONMap(copyOptions(variant.Options))
		}
	}
	return line
}

func copyOptions(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

const maxInt64 = int64(^uint64(0) >> 1)
