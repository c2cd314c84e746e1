package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

type publishedEvent struct {
	tenantID uuid.UUID
	event    enums.EventType
	payload  any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, tenantID uuid.UUID, event enums.EventType, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{tenantID: tenantID, event: event, payload: payload})
}

func (p *recordingPublisher) types() []enums.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]enums.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event)
	}
	return out
}

// failingAppendRepo fails the nth AppendTransaction call.
type failingAppendRepo struct {
	Repository
	failOn *int
	calls  *int
}

func (r failingAppendRepo) WithTx(tx *gorm.DB) Repository {
	return failingAppendRepo{Repository: r.Repository.WithTx(tx), failOn: r.failOn, calls: r.calls}
}

func (r failingAppendRepo) AppendTransaction(ctx context.Context, entry *models.LedgerTransaction) error {
	*r.calls++
	if *r.calls == *r.failOn {
		return errors.New("disk full")
	}
	return r.Repository.AppendTransaction(ctx, entry)
}

type fixture struct {
	svc       Service
	repo      Repository
	conn      *gorm.DB
	publisher *recordingPublisher
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(conn))
	return conn
}

func newFixture(t *testing.T, conn *gorm.DB, wrap func(Repository) Repository) *fixture {
	t.Helper()
	guard, err := tenancy.NewGuard(db.Wrap(conn))
	require.NoError(t, err)

	repo := NewRepository(conn)
	if wrap != nil {
		repo = wrap(repo)
	}
	publisher := &recordingPublisher{}
	svc, err := NewService(ServiceParams{
		Tenancy:       guard,
		Repository:    repo,
		Publisher:     publisher,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		MaxDistribute: 3,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, repo: NewRepository(conn), conn: conn, publisher: publisher}
}

func entry(tenantID, userID uuid.UUID, amount int64, reason string) EntryInput {
	return EntryInput{TenantID: tenantID, UserID: userID, Amount: amount, Reason: reason, PerformedBy: "admin"}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestLedgerConservationExample(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, userU, userV := uuid.New(), uuid.New(), uuid.New()

	res, err := f.svc.Credit(ctx, entry(tenantID, userU, 100, "bonus"))
	require.NoError(t, err)
	assert.EqualValues(t, 100, res.NewBalance)

	_, err = f.svc.Debit(ctx, entry(tenantID, userU, 150, "order"))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientBalance, typed.Code())
	assert.Equal(t, map[string]any{"required": int64(150), "available": int64(100)}, typed.Details())

	balance, err := f.svc.Balance(ctx, tenantID, userU)
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)

	res, err = f.svc.Debit(ctx, entry(tenantID, userU, 60, "order#7"))
	require.NoError(t, err)
	assert.EqualValues(t, 40, res.NewBalance)

	dist, err := f.svc.BulkDistribute(ctx, DistributeInput{
		TenantID:    tenantID,
		UserIDs:     []uuid.UUID{userU, userV},
		Amount:      25,
		Reason:      "reward",
		PerformedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, dist.Count)
	assert.EqualValues(t, 50, dist.TotalDistributed)

	balance, err = f.svc.Balance(ctx, tenantID, userU)
	require.NoError(t, err)
	assert.EqualValues(t, 65, balance)

	sum, err := f.repo.SignedSum(ctx, tenantID, userU)
	require.NoError(t, err)
	assert.EqualValues(t, 65, sum)

	history, err := f.svc.History(ctx, tenantID, userU, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.EqualValues(t, 65, history[0].BalanceAfter)

	assert.Equal(t, []enums.EventType{
		enums.EventCurrencyCredited,
		enums.EventCurrencyDebited,
		enums.EventCurrencyDistributed,
	}, f.publisher.types())
}

func TestBalanceOfUnknownUserIsZero(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	balance, err := f.svc.Balance(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestDebitWithoutBalanceRowFails(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	_, err := f.svc.Debit(context.Background(), entry(uuid.New(), uuid.New(), 1, "order"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
}

func TestEntryValidation(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()

	cases := map[string]EntryInput{
		"zero amount":    entry(tenantID, userID, 0, "x"),
		"negative":       entry(tenantID, userID, -5, "x"),
		"missing reason": entry(tenantID, userID, 5, "  "),
		"missing user":   entry(tenantID, uuid.Nil, 5, "x"),
		"missing tenant": entry(uuid.Nil, userID, 5, "x"),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Credit(ctx, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()
	const workers = 8
	const amount = 10

	_, err := f.svc.Credit(ctx, entry(tenantID, userID, (workers-1)*amount, "seed"))
	require.NoError(t, err)

	assertSingleOverdraw(t, f.svc, tenantID, userID, workers, amount)

	balance, err := f.svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func assertSingleOverdraw(t *testing.T, svc Service, tenantID, userID uuid.UUID, workers int, amount int64) {
	t.Helper()
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), entry(tenantID, userID, amount, "race"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, workers-1, successes)
	assert.Equal(t, 1, insufficient)
}

func TestBulkDistributeIsAllOrNothing(t *testing.T) {
	conn := openSQLite(t)
	failOn, calls := 2, 0
	f := newFixture(t, conn, func(r Repository) Repository {
		return failingAppendRepo{Repository: r, failOn: &failOn, calls: &calls}
	})
	ctx := context.Background()
	tenantID := uuid.New()
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	_, err := f.svc.BulkDistribute(ctx, DistributeInput{
		TenantID: tenantID, UserIDs: users, Amount: 10, Reason: "reward", PerformedBy: "admin",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var balances, txs int64
	require.NoError(t, conn.Model(&models.Balance{}).Count(&balances).Error)
	require.NoError(t, conn.Model(&models.LedgerTransaction{}).Count(&txs).Error)
	assert.Zero(t, balances)
	assert.Zero(t, txs)
	assert.Empty(t, f.publisher.types())
}

func TestBulkDistributeValidation(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, dup := uuid.New(), uuid.New()

	cases := map[string][]uuid.UUID{
		"empty":     nil,
		"duplicate": {dup, dup},
		"too many":  {uuid.New(), uuid.New(), uuid.New(), uuid.New()},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.BulkDistribute(ctx, DistributeInput{
				TenantID: tenantID, UserIDs: ids, Amount: 5, Reason: "x", PerformedBy: "admin",
			})
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestIdempotentDebitReplaysOriginalResult(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()

	_, err := f.svc.Credit(ctx, entry(tenantID, userID, 100, "seed"))
	require.NoError(t, err)

	input := entry(tenantID, userID, 30, "Order #1")
	input.IdempotencyKey = "order:1:debit"
	first, err := f.svc.Debit(ctx, input)
	require.NoError(t, err)
	second, err := f.svc.Debit(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.EqualValues(t, 70, second.NewBalance)
	assert.True(t, second.Replayed)

	balance, err := f.svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 70, balance)
	assert.Len(t, f.publisher.types(), 2)

	mismatch := input
	mismatch.Amount = 31
	_, err = f.svc.Debit(ctx, mismatch)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency))
}

func TestIdempotentCreditReplays(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()

	input := entry(tenantID, userID, 40, "refund")
	input.IdempotencyKey = "order:9:refund"
	_, err := f.svc.Credit(ctx, input)
	require.NoError(t, err)
	replay, err := f.svc.Credit(ctx, input)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	balance, err := f.svc.Balance(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 40, balance)
}

func TestAdjustCannotDriveBalanceNegative(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantID, userID := uuid.New(), uuid.New()

	res, err := f.svc.Adjust(ctx, AdjustInput{TenantID: tenantID, UserID: userID, Delta: 20, Reason: "fix", PerformedBy: "admin"})
	require.NoError(t, err)
	assert.EqualValues(t, 20, res.NewBalance)

	res, err = f.svc.Adjust(ctx, AdjustInput{TenantID: tenantID, UserID: userID, Delta: -15, Reason: "fix", PerformedBy: "admin"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.NewBalance)

	_, err = f.svc.Adjust(ctx, AdjustInput{TenantID: tenantID, UserID: userID, Delta: -6, Reason: "fix", PerformedBy: "admin"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	history, err := f.svc.History(ctx, tenantID, userID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, tx := range history {
		assert.Equal(t, enums.TransactionTypeAdjustment, tx.Type)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	f := newFixture(t, openSQLite(t), nil)
	ctx := context.Background()
	tenantA, tenantB, userID := uuid.New(), uuid.New(), uuid.New()

	_, err := f.svc.Credit(ctx, entry(tenantA, userID, 50, "bonus"))
	require.NoError(t, err)

	balance, err := f.svc.Balance(ctx, tenantB, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestPostgresConcurrentDebits(t *testing.T) {
	dsn := os.Getenv("MERCHCOIN_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("MERCHCOIN_TEST_DATABASE_DSN not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(conn))

	f := newFixture(t, conn, nil)
	tenantID, userID := uuid.New(), uuid.New()
	const workers = 20
	_, err = f.svc.Credit(context.Background(), entry(tenantID, userID, (workers-1)*5, "seed"))
	require.NoError(t, err)

	assertSingleOverdraw(t, f.svc, tenantID, userID, workers, 5)
}
