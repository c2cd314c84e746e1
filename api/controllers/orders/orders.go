package orders

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/api/validators"
	internalorders "github.com/angelmondragon/merchcoin-backend/internal/orders"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/pagination"
)

type placeRequest struct {
	BuyerID *uuid.UUID                 `json:"buyerId,omitempty"`
	Lines   []internalorders.LineInput `json:"lines" validate:"required,min=1,max=100,dive"`
}

type orderDTO struct {
	ID                  uuid.UUID              `json:"id"`
	OrderNumber         int64                  `json:"orderNumber"`
	BuyerID             uuid.UUID              `json:"buyerId"`
	Status              enums.OrderStatus      `json:"status"`
	TotalCost           int64                  `json:"totalCost"`
	SettlementStatus    enums.SettlementStatus `json:"settlementStatus"`
	SettlementAttempts  int                    `json:"settlementAttempts"`
	SettlementError     *string                `json:"settlementError,omitempty"`
	DebitTransactionID  *uuid.UUID             `json:"debitTransactionId,omitempty"`
	RefundTransactionID *uuid.UUID             `json:"refundTransactionId,omitempty"`
	CancelledBy         *string                `json:"cancelledBy,omitempty"`
	ApprovedAt          *time.Time             `json:"approvedAt,omitempty"`
	FulfilledAt         *time.Time             `json:"fulfilledAt,omitempty"`
	CancelledAt         *time.Time             `json:"cancelledAt,omitempty"`
	Lines               []lineDTO              `json:"lines"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

type lineDTO struct {
	ItemID      uuid.UUID      `json:"itemId"`
	VariantID   *uuid.UUID     `json:"variantId,omitempty"`
	ItemName    string         `json:"itemName"`
	VariantName *string        `json:"variantName,omitempty"`
	UnitPrice   int64          `json:"unitPrice"`
	Quantity    int64          `json:"quantity"`
	LineTotal   int64          `json:"lineTotal"`
	Options     map[string]any `json:"options,omitempty"`
}

type orderListResponse struct {
	Orders     []orderDTO `json:"orders"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// Place commits an order for the buyer and settles it. Members always buy
// for themselves; admins and API keys name the buyer.
func Place(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req placeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buyerID, err := resolveBuyer(r.Context(), req.BuyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Place(r.Context(), internalorders.PlaceInput{
			TenantID:    tenantID,
			BuyerID:     buyerID,
			PerformedBy: middleware.ActorFromContext(r.Context()),
			Lines:       req.Lines,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// List returns a page of orders newest first. Members only see their own.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buyerID, err := validators.ParseQueryUUID(r, "buyerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if self, restricted, err := middleware.MemberSelf(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if restricted {
			buyerID = &self
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), internalorders.ListParams{
			TenantID: tenantID,
			BuyerID:  buyerID,
			Page: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := orderListResponse{Orders: make([]orderDTO, 0, len(list.Orders)), NextCursor: list.NextCursor}
		for i := range list.Orders {
			out.Orders = append(out.Orders, toOrderDTO(&list.Orders[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), tenantID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ensureOwnOrder(r.Context(), order); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderDTO(order))
	}
}

// Approve moves a pending order to approved.
func Approve(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc.Approve, logg)
}

// Fulfill moves an approved order to fulfilled.
func Fulfill(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(svc.Fulfill, logg)
}

func transitionHandler(apply func(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := apply(r.Context(), tenantID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderDTO(order))
	}
}

// Cancel cancels an order, restoring stock and refunding a settled debit.
// Members may only cancel their own orders.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, restricted, err := middleware.MemberSelf(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		} else if restricted {
			existing, err := svc.Get(r.Context(), tenantID, orderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if err := ensureOwnOrder(r.Context(), existing); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := svc.Cancel(r.Context(), internalorders.CancelInput{
			TenantID:    tenantID,
			OrderID:     orderID,
			CancelledBy: middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderDTO(order))
	}
}

func orderTarget(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := middleware.RequireTenantID(r.Context())
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, orderID, nil
}

func resolveBuyer(ctx context.Context, requested *uuid.UUID) (uuid.UUID, error) {
	self, restricted, err := middleware.MemberSelf(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if restricted {
		if requested != nil && *requested != self {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "members may only order for themselves")
		}
		return self, nil
	}
	if requested != nil && *requested != uuid.Nil {
		return *requested, nil
	}
	if userID, err := uuid.Parse(middleware.UserIDFromContext(ctx)); err == nil {
		return userID, nil
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{"buyerId": "is required"})
}

func ensureOwnOrder(ctx context.Context, order *models.Order) error {
	self, restricted, err := middleware.MemberSelf(ctx)
	if err != nil {
		return err
	}
	if restricted && order.BuyerID != self {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func toOrderDTO(order *models.Order) orderDTO {
	out := orderDTO{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		BuyerID:             order.BuyerID,
		Status:              order.Status,
		TotalCost:           order.TotalCost,
		SettlementStatus:    order.SettlementStatus,
		SettlementAttempts:  order.SettlementAttempts,
		SettlementError:     order.SettlementError,
		DebitTransactionID:  order.DebitTransactionID,
		RefundTransactionID: order.RefundTransactionID,
		CancelledBy:         order.CancelledBy,
		ApprovedAt:          order.ApprovedAt,
		FulfilledAt:         order.FulfilledAt,
		CancelledAt:         order.CancelledAt,
		Lines:               make([]lineDTO, 0, len(order.Lines)),
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
	for _, line := range order.Lines {
		out.Lines = append(out.Lines, lineDTO{
			ItemID:      line.ItemID,
			VariantID:   line.VariantID,
			ItemName:    line.ItemName,
			VariantName: line.VariantName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   line.LineTotal,
			Options:     line.Options,
		})
	}
	return out
}
