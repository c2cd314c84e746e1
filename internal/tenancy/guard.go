// Package tenancy binds units of work to a single tenant.
//
// Every storage transaction opened through Guard.Run carries the tenant id as
// a transaction-local Postgres setting; row-level-security policies on every
// tenant table compare against it, so a query that forgets its tenant filter
// still only sees the bound tenant's rows.
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
)

const (
	tenantSetting = "app.current_tenant_id"
	systemSetting = "app.system_scope"
)

// TxFunc is executed inside a bound unit of work. The context carries the
// unit of work so nested calls join the same transaction.
type TxFunc func(ctx context.Context, tx *gorm.DB) error

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Runner is the surface consumed by services.
type Runner interface {
	Run(ctx context.Context, tenantID uuid.UUID, fn TxFunc) error
	RunSystem(ctx context.Context, fn TxFunc) error
}

// Guard opens tenant-bound units of work.
type Guard struct {
	db txRunner
}

type unitOfWork struct {
	tenantID    uuid.UUID
	system      bool
	tx          *gorm.DB
	afterCommit []func()
}

type ctxKey struct{}

// NewGuard builds a guard over the provided transaction runner.
func NewGuard(runner txRunner) (*Guard, error) {
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Guard{db: runner}, nil
}

// Run executes fn inside one transaction bound to tenantID. A nested call for
// the same tenant reuses the outer transaction.
func (g *Guard) Run(ctx context.Context, tenantID uuid.UUID, fn TxFunc) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if outer, ok := fromContext(ctx); ok {
		if outer.system || outer.tenantID != tenantID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "unit of work is bound to a different tenant scope")
		}
		return fn(ctx, outer.tx)
	}

	uow := &unitOfWork{tenantID: tenantID}
	err := g.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := bind(tx, tenantSetting, tenantID.String()); err != nil {
			return fmt.Errorf("bind tenant: %w", err)
		}
		uow.tx = tx
		return fn(context.WithValue(ctx, ctxKey{}, uow), tx)
	})
	if err != nil {
		return storageError(err)
	}
	uow.flush()
	return nil
}

// RunSystem executes fn in a cross-tenant unit of work. It is reserved for
// credential lookup and background sweeps.
func (g *Guard) RunSystem(ctx context.Context, fn TxFunc) error {
	if outer, ok := fromContext(ctx); ok {
		if !outer.system {
			return pkgerrors.New(pkgerrors.CodeForbidden, "system scope cannot nest inside a tenant unit of work")
		}
		return fn(ctx, outer.tx)
	}

	uow := &unitOfWork{system: true}
	err := g.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := bind(tx, systemSetting, "on"); err != nil {
			return fmt.Errorf("bind system scope: %w", err)
		}
		uow.tx = tx
		return fn(context.WithValue(ctx, ctxKey{}, uow), tx)
	})
	if err != nil {
		return storageError(err)
	}
	uow.flush()
	return nil
}

// AfterCommit defers fn until the outermost unit of work in ctx commits.
// Hooks are discarded on rollback. Outside a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if fn == nil {
		return
	}
	uow, ok := fromContext(ctx)
	if !ok {
		fn()
		return
	}
	uow.afterCommit = append(uow.afterCommit, fn)
}

func (u *unitOfWork) flush() {
	hooks := u.afterCommit
	u.afterCommit = nil
	for _, hook := range hooks {
		hook()
	}
}

// TenantFromContext returns the tenant bound to the active unit of work.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	uow, ok := fromContext(ctx)
	if !ok || uow.system {
		return uuid.Nil, false
	}
	return uow.tenantID, true
}

// InUnitOfWork reports whether ctx already carries an open transaction.
func InUnitOfWork(ctx context.Context) bool {
	_, ok := fromContext(ctx)
	return ok
}

func fromContext(ctx context.Context) (*unitOfWork, bool) {
	if ctx == nil {
		return nil, false
	}
	uow, ok := ctx.Value(ctxKey{}).(*unitOfWork)
	return uow, ok && uow != nil
}

func bind(tx *gorm.DB, setting, value string) error {
	// sqlite has no session settings or row-level security.
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config(?, ?, true)", setting, value).Error
}

// storageError leaves typed errors untouched and reports everything else as
// an unavailable store.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, db.ErrTxUnavailable) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storage operation failed")
}
