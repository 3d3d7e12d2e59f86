package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// GUC names read by the row-level-security policies. The binding is always
// written with parameter-bound set_config, never interpolation, even though
// the identifier has already been validated.
const (
	tenantGUC     = "app.tenant_id"
	superAdminGUC = "app.is_super_admin"
)

// ErrNotFound is the shared missing-row sentinel stores translate pgx.ErrNoRows into.
var ErrNotFound = errors.New("record not found")

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TenantDB is the tenant context guard over a pgx pool. Every data access runs
// inside WithTenant or WithSuperAdmin: the tenant binding is created on the
// transaction's own connection with is_local=true, so it dies with the
// transaction and can never leak to another request sharing the pool. There is
// no way to obtain a scoped query surface without a live binding.
type TenantDB struct {
	pool  txBeginner
	audit audit.Emitter
}

// TenantDBConfig wires the guard's dependencies.
type TenantDBConfig struct {
	Pool  *pgxpool.Pool
	Audit audit.Emitter
}

// NewTenantDB constructs the guard.
func NewTenantDB(cfg TenantDBConfig) *TenantDB {
	if cfg.Pool == nil {
		panic("TenantDB requires pool")
	}
	if cfg.Audit == nil {
		panic("TenantDB requires audit emitter")
	}
	return &TenantDB{pool: cfg.Pool, audit: cfg.Audit}
}

// newTenantDB is the test seam accepting any txBeginner.
func newTenantDB(pool txBeginner, emitter audit.Emitter) *TenantDB {
	return &TenantDB{pool: pool, audit: emitter}
}

// WithTenant executes fn inside a transaction bound to the scope's tenant.
// The identifier is re-validated before any storage work: defense in depth, a
// malformed scope never reaches the database.
func (db *TenantDB) WithTenant(ctx context.Context, scope tenant.Scope, fn func(tx pgx.Tx) error) error {
	if !tenant.IsValidID(scope.TenantID) {
		return tenant.ErrInvalidID
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, tenantGUC, scope.TenantID); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	if scope.SuperAdmin {
		if _, err := tx.Exec(ctx, `SELECT set_config($1, 'on', true)`, superAdminGUC); err != nil {
			return fmt.Errorf("bind super admin flag: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// WithSuperAdmin executes fn inside a transaction with tenant filtering
// bypassed. The path requires a reason and is audited unconditionally before
// the transaction runs; it should stay rare.
func (db *TenantDB) WithSuperAdmin(ctx context.Context, actorID, reason string, fn func(tx pgx.Tx) error) error {
	if strings.TrimSpace(reason) == "" {
		return errors.New("unscoped access requires a reason")
	}

	if err := db.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "data.unscoped_access",
		EntityType: "database",
		NewValues:  map[string]any{"reason": reason},
	}); err != nil {
		return fmt.Errorf("audit unscoped access: %w", err)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT set_config($1, 'on', true)`, superAdminGUC); err != nil {
		return fmt.Errorf("bind super admin flag: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CurrentTenantID reads the tenant identifier bound to the transaction, or ""
// when no binding is live. Used for audit stamping and test assertions.
func CurrentTenantID(ctx context.Context, tx pgx.Tx) (string, error) {
	var bound *string
	if err := tx.QueryRow(ctx, `SELECT nullif(current_setting($1, true), '')`, tenantGUC).Scan(&bound); err != nil {
		return "", fmt.Errorf("read tenant binding: %w", err)
	}
	if bound == nil {
		return "", nil
	}
	return *bound, nil
}
