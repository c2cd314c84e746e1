package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
	"github.com/angelmondragon/merchcoin-backend/pkg/metrics"
)

const (
	defaultMaxDistribute = 1000
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 200
)

// EventPublisher receives domain events once the unit of work commits.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, event enums.EventType, payload any)
}

// Service mutates balances and records every change as a transaction.
type Service interface {
	Credit(ctx context.Context, input EntryInput) (*Result, error)
	Debit(ctx context.Context, input EntryInput) (*Result, error)
	BulkDistribute(ctx context.Context, input DistributeInput) (*DistributeResult, error)
	Adjust(ctx context.Context, input AdjustInput) (*Result, error)
	Balance(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
	History(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]models.LedgerTransaction, error)
}

// EntryInput describes a single credit or debit.
type EntryInput struct {
	TenantID       uuid.UUID
	UserID         uuid.UUID
	Amount         int64
	Reason         string
	PerformedBy    string
	Reference      *string
	IdempotencyKey string
}

// AdjustInput describes an administrative correction. Delta may be negative.
type AdjustInput struct {
	TenantID    uuid.UUID
	UserID      uuid.UUID
	Delta       int64
	Reason      string
	PerformedBy string
}

// DistributeInput credits the same amount to every listed user.
type DistributeInput struct {
	TenantID    uuid.UUID
	UserIDs     []uuid.UUID
	Amount      int64
	Reason      string
	PerformedBy string
}

// Result is the outcome of a single balance mutation.
type Result struct {
	NewBalance    int64     `json:"newBalance"`
	TransactionID uuid.UUID `json:"transactionId"`
	Replayed      bool      `json:"-"`
}

// DistributeResult summarizes a bulk distribution.
type DistributeResult struct {
	Count            int   `json:"count"`
	TotalDistributed int64 `json:"totalDistributed"`
}

// BalanceEvent is the payload of currency.credited, currency.debited and
// currency.adjusted.
type BalanceEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Reason        string    `json:"reason"`
	Reference     *string   `json:"reference,omitempty"`
}

// DistributedEvent is the payload of currency.distributed.
type DistributedEvent struct {
	UserIDs          []uuid.UUID `json:"user_ids"`
	Amount           int64       `json:"amount"`
	TotalDistributed int64       `json:"total_distributed"`
	Reason           string      `json:"reason"`
}

// ServiceParams groups the ledger service dependencies.
type ServiceParams struct {
	Tenancy       tenancy.Runner
	Repository    Repository
	Publisher     EventPublisher
	Metrics       *metrics.LedgerMetrics
	Logger        *logger.Logger
	MaxDistribute int
}

type service struct {
	tenancy       tenancy.Runner
	repo          Repository
	publisher     EventPublisher
	metrics       *metrics.LedgerMetrics
	logg          *logger.Logger
	maxDistribute int
}

// NewService wires the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tenancy == nil {
		return nil, fmt.Errorf("tenancy runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	maxDistribute := params.MaxDistribute
	if maxDistribute <= 0 {
		maxDistribute = defaultMaxDistribute
	}
	return &service{
		tenancy:       params.Tenancy,
		repo:          params.Repository,
		publisher:     params.Publisher,
		metrics:       params.Metrics,
		logg:          params.Logger,
		maxDistribute: maxDistribute,
	}, nil
}

// mutation is one signed balance change applied inside a unit of work.
type mutation struct {
	tenantID       uuid.UUID
	userID         uuid.UUID
	txType         enums.TransactionType
	delta          int64
	reason         string
	performedBy    string
	reference      *string
	idempotencyKey string
}

func (s *service) Credit(ctx context.Context, input EntryInput) (*Result, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}
	m := mutation{
		tenantID:       input.TenantID,
		userID:         input.UserID,
		txType:         enums.TransactionTypeCredit,
		delta:          input.Amount,
		reason:         strings.TrimSpace(input.Reason),
		performedBy:    strings.TrimSpace(input.PerformedBy),
		reference:      input.Reference,
		idempotencyKey: strings.TrimSpace(input.IdempotencyKey),
	}

	var result *Result
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		result, err = s.applyCredit(ctx, s.repo.WithTx(tx), m)
		if err != nil {
			return err
		}
		if !result.Replayed {
			s.publishAfterCommit(ctx, m, enums.EventCurrencyCredited, result)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncOperation("credit", "error")
		return nil, err
	}
	s.metrics.IncOperation("credit", outcome(result))
	return result, nil
}

func (s *service) Debit(ctx context.Context, input EntryInput) (*Result, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}
	m := mutation{
		tenantID:       input.TenantID,
		userID:         input.UserID,
		txType:         enums.TransactionTypeDebit,
		delta:          -input.Amount,
		reason:         strings.TrimSpace(input.Reason),
		performedBy:    strings.TrimSpace(input.PerformedBy),
		reference:      input.Reference,
		idempotencyKey: strings.TrimSpace(input.IdempotencyKey),
	}

	var result *Result
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		result, err = s.applyDebit(ctx, s.repo.WithTx(tx), m)
		if err != nil {
			return err
		}
		if !result.Replayed {
			s.publishAfterCommit(ctx, m, enums.EventCurrencyDebited, result)
		}
		return nil
	})
	if err != nil {
		s.recordDebitFailure(ctx, "debit", m, err)
		return nil, err
	}
	s.metrics.IncOperation("debit", outcome(result))
	return result, nil
}

func (s *service) BulkDistribute(ctx context.Context, input DistributeInput) (*DistributeResult, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if len(input.UserIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one user id is required")
	}
	if len(input.UserIDs) > s.maxDistribute {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "too many recipients").
			WithDetails(map[string]any{"max": s.maxDistribute, "received": len(input.UserIDs)})
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	performedBy := strings.TrimSpace(input.PerformedBy)
	if performedBy == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed by is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.UserIDs))
	for _, id := range input.UserIDs {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "user ids must be valid")
		}
		if _, dup := seen[id]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate user id").
				WithDetails(map[string]any{"user_id": id.String()})
		}
		seen[id] = struct{}{}
	}
	if input.Amount > maxInt64/int64(len(input.UserIDs)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "distribution total overflows")
	}

	result := &DistributeResult{
		Count:            len(input.UserIDs),
		TotalDistributed: int64(len(input.UserIDs)) * input.Amount,
	}
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, userID := range input.UserIDs {
			_, err := s.applyCredit(ctx, repo, mutation{
				tenantID:    input.TenantID,
				userID:      userID,
				txType:      enums.TransactionTypeCredit,
				delta:       input.Amount,
				reason:      reason,
				performedBy: performedBy,
			})
			if err != nil {
				return err
			}
		}
		if s.publisher != nil {
			event := DistributedEvent{
				UserIDs:          append([]uuid.UUID(nil), input.UserIDs...),
				Amount:           input.Amount,
				TotalDistributed: result.TotalDistributed,
				Reason:           reason,
			}
			tenancy.AfterCommit(ctx, func() {
				s.publisher.Publish(context.WithoutCancel(ctx), input.TenantID, enums.EventCurrencyDistributed, event)
			})
		}
		return nil
	})
	if err != nil {
		s.metrics.IncOperation("distribute", "error")
		return nil, err
	}
	s.metrics.IncOperation("distribute", "success")
	return result, nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*Result, error) {
	if input.TenantID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and user id are required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	m := mutation{
		tenantID:    input.TenantID,
		userID:      input.UserID,
		txType:      enums.TransactionTypeAdjustment,
		delta:       input.Delta,
		reason:      strings.TrimSpace(input.Reason),
		performedBy: strings.TrimSpace(input.PerformedBy),
	}
	if m.reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if m.performedBy == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed by is required")
	}

	var result *Result
	err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if m.delta > 0 {
			result, err = s.applyCredit(ctx, repo, m)
		} else {
			result, err = s.applyDebit(ctx, repo, m)
		}
		if err != nil {
			return err
		}
		s.publishAfterCommit(ctx, m, enums.EventCurrencyAdjusted, result)
		return nil
	})
	if err != nil {
		s.recordDebitFailure(ctx, "adjust", m, err)
		return nil, err
	}
	s.metrics.IncOperation("adjust", "success")
	return result, nil
}

func (s *service) Balance(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	if tenantID == uuid.Nil || userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and user id are required")
	}
	var amount int64
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		balance, err := s.repo.WithTx(tx).GetBalance(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if balance != nil {
			amount = balance.Balance
		}
		return nil
	})
	return amount, err
}

func (s *service) History(ctx context.Context, tenantID, userID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	if tenantID == uuid.Nil || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and user id are required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var entries []models.LedgerTransaction
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		entries, err = s.repo.WithTx(tx).ListTransactions(ctx, tenantID, userID, limit)
		return err
	})
	return entries, err
}

// applyCredit adds a positive delta. No row lock is taken: the upsert is a
// single atomic increment.
func (s *service) applyCredit(ctx context.Context, repo Repository, m mutation) (*Result, error) {
	if m.idempotencyKey != "" {
		replay, err := findReplay(ctx, repo, m)
		if err != nil || replay != nil {
			return replay, err
		}
	}
	balance, err := repo.UpsertCredit(ctx, m.tenantID, m.userID, m.delta)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("balance missing after credit")
	}
	return appendEntry(ctx, repo, m, balance.Balance)
}

// applyDebit subtracts -m.delta under a row lock on the balance so concurrent
// debits of the same pair serialize.
func (s *service) applyDebit(ctx context.Context, repo Repository, m mutation) (*Result, error) {
	balance, err := repo.LockBalance(ctx, m.tenantID, m.userID)
	if err != nil {
		return nil, err
	}
	if m.idempotencyKey != "" {
		replay, err := findReplay(ctx, repo, m)
		if err != nil || replay != nil {
			return replay, err
		}
	}
	required := -m.delta
	var available int64
	if balance != nil {
		available = balance.Balance
	}
	if balance == nil || available < required {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
			WithDetails(map[string]any{"required": required, "available": available})
	}
	next := available - required
	if err := repo.SetBalance(ctx, balance.ID, next); err != nil {
		return nil, err
	}
	return appendEntry(ctx, repo, m, next)
}

func appendEntry(ctx context.Context, repo Repository, m mutation, balanceAfter int64) (*Result, error) {
	entry := &models.LedgerTransaction{
		TenantID:     m.tenantID,
		UserID:       m.userID,
		Type:         m.txType,
		Amount:       m.delta,
		BalanceAfter: balanceAfter,
		Reason:       m.reason,
		Reference:    m.reference,
		PerformedBy:  m.performedBy,
	}
	if m.idempotencyKey != "" {
		key := m.idempotencyKey
		entry.IdempotencyKey = &key
	}
	if err := repo.AppendTransaction(ctx, entry); err != nil {
		if m.idempotencyKey != "" && db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "idempotency key is already being processed")
		}
		return nil, err
	}
	return &Result{NewBalance: balanceAfter, TransactionID: entry.ID}, nil
}

// findReplay returns the stored result for a repeated idempotency key. A key
// reused for a different mutation is rejected.
func findReplay(ctx context.Context, repo Repository, m mutation) (*Result, error) {
	existing, err := repo.FindByIdempotencyKey(ctx, m.tenantID, m.idempotencyKey)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.UserID != m.userID || existing.Type != m.txType || existing.Amount != m.delta {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request").
			WithDetails(map[string]any{"idempotency_key": m.idempotencyKey})
	}
	return &Result{NewBalance: existing.BalanceAfter, TransactionID: existing.ID, Replayed: true}, nil
}

func (s *service) publishAfterCommit(ctx context.Context, m mutation, event enums.EventType, result *Result) {
	if s.publisher == nil {
		return
	}
	payload := BalanceEvent{
		UserID:        m.userID,
		Amount:        m.delta,
		BalanceAfter:  result.NewBalance,
		TransactionID: result.TransactionID,
		Reason:        m.reason,
		Reference:     m.reference,
	}
	tenantID := m.tenantID
	tenancy.AfterCommit(ctx, func() {
		s.publisher.Publish(context.WithoutCancel(ctx), tenantID, event, payload)
	})
}

func (s *service) recordDebitFailure(ctx context.Context, op string, m mutation, err error) {
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
		s.metrics.IncOperation(op, "error")
		return
	}
	s.metrics.IncOperation(op, "insufficient")
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id": m.tenantID.String(),
		"user_id":   m.userID.String(),
		"required":  -m.delta,
	})
	s.logg.Warn(logCtx, "ledger.debit.insufficient")
}

func validateEntry(input EntryInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if strings.TrimSpace(input.PerformedBy) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "performed by is required")
	}
	return nil
}

func outcome(result *Result) string {
	if result != nil && result.Replayed {
		return "replayed"
	}
	return "success"
}

const maxInt64 = int64(^uint64(0) >> 1)
