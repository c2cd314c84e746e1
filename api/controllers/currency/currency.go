package currency

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/merchcoin-backend/api/middleware"
	"github.com/angelmondragon/merchcoin-backend/api/responses"
	"github.com/angelmondragon/merchcoin-backend/api/validators"
	"github.com/angelmondragon/merchcoin-backend/internal/ledger"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

const (
	maxReasonLength  = 500
	defaultHistory   = 50
	maxHistory       = 200
	requestKeyPrefix = "request:"
)

type entryRequest struct {
	UserID    uuid.UUID `json:"userId" validate:"required"`
	Amount    int64     `json:"amount" validate:"gt=0"`
	Reason    string    `json:"reason" validate:"required,max=500"`
	Reference *string   `json:"reference,omitempty" validate:"omitempty,max=200"`
}

type distributeRequest struct {
	UserIDs []uuid.UUID `json:"userIds" validate:"required,min=1"`
	Amount  int64       `json:"amount" validate:"gt=0"`
	Reason  string      `json:"reason" validate:"required,max=500"`
}

type adjustRequest struct {
	UserID uuid.UUID `json:"userId" validate:"required"`
	Delta  int64     `json:"delta" validate:"ne=0"`
	Reason string    `json:"reason" validate:"required,max=500"`
}

type balanceResponse struct {
	UserID  uuid.UUID `json:"userId"`
	Balance int64     `json:"balance"`
}

type transactionDTO struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balanceAfter"`
	Reason       string    `json:"reason"`
	Reference    *string   `json:"reference,omitempty"`
	PerformedBy  string    `json:"performedBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

type historyResponse struct {
	Transactions []transactionDTO `json:"transactions"`
}

// Credit adds currency to a user's balance.
func Credit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return entryHandler(svc.Credit, logg)
}

// Debit removes currency from a user's balance; it fails
// INSUFFICIENT_BALANCE without touching the balance.
func Debit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return entryHandler(svc.Debit, logg)
}

type entryFunc func(ctx context.Context, input ledger.EntryInput) (*ledger.Result, error)

func entryHandler(apply entryFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req entryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := apply(r.Context(), ledger.EntryInput{
			TenantID:       tenantID,
			UserID:         req.UserID,
			Amount:         req.Amount,
			Reason:         validators.SanitizeString(req.Reason, maxReasonLength),
			PerformedBy:    middleware.ActorFromContext(r.Context()),
			Reference:      req.Reference,
			IdempotencyKey: ledgerKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Distribute credits the same amount to every listed user in one unit of work.
func Distribute(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req distributeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.BulkDistribute(r.Context(), ledger.DistributeInput{
			TenantID:    tenantID,
			UserIDs:     req.UserIDs,
			Amount:      req.Amount,
			Reason:      validators.SanitizeString(req.Reason, maxReasonLength),
			PerformedBy: middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Adjust applies an administrative correction; delta may be negative.
func Adjust(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Adjust(r.Context(), ledger.AdjustInput{
			TenantID:    tenantID,
			UserID:      req.UserID,
			Delta:       req.Delta,
			Reason:      validators.SanitizeString(req.Reason, maxReasonLength),
			PerformedBy: middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Balance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := ownUserParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		amount, err := svc.Balance(r.Context(), tenantID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{UserID: userID, Balance: amount})
	}
}

// History lists a user's transactions newest first.
func History(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := middleware.RequireTenantID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := ownUserParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultHistory, 1, maxHistory)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.History(r.Context(), tenantID, userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := historyResponse{Transactions: make([]transactionDTO, 0, len(rows))}
		for _, row := range rows {
			out.Transactions = append(out.Transactions, toTransactionDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

// ownUserParam reads the userId path parameter; member sessions may only
// read their own balance and history.
func ownUserParam(r *http.Request) (uuid.UUID, error) {
	userID, err := validators.ParseUUIDParam(r, "userId")
	if err != nil {
		return uuid.Nil, err
	}
	self, restricted, err := middleware.MemberSelf(r.Context())
	if err != nil {
		return uuid.Nil, err
	}
	if restricted && self != userID {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "members may only read their own balance")
	}
	return userID, nil
}

// ledgerKey turns the HTTP Idempotency-Key into a durable ledger key so a
// replay is deduplicated even when the response cache has expired.
func ledgerKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
	if key == "" {
		return ""
	}
	return requestKeyPrefix + key
}

func toTransactionDTO(row models.LedgerTransaction) transactionDTO {
	return transactionDTO{
		ID:           row.ID,
		UserID:       row.UserID,
		Type:         string(row.Type),
		Amount:       row.Amount,
		BalanceAfter: row.BalanceAfter,
		Reason:       row.Reason,
		Reference:    row.Reference,
		PerformedBy:  row.PerformedBy,
		CreatedAt:    row.CreatedAt,
	}
}
