package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

type recordingBeginner struct {
	calls int
}

func (r *recordingBeginner) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	r.calls++
	return nil, errors.New("no database in unit tests")
}

func TestWithTenantRejectsInvalidIDBeforeStorage(t *testing.T) {
	beginner := &recordingBeginner{}
	db := newTenantDB(beginner, audit.NewRecorder())

	malformed := []string{
		"",
		"tenant-1",
		"c123'; DROP TABLE tenants;--",
		"CLX0A1B2C3D4E5F6G7H8I9J0K", // uppercase
		"c0123456789012345678901",   // too short
	}

	for _, id := range malformed {
		err := db.WithTenant(context.Background(), tenant.Scope{TenantID: id}, func(tx pgx.Tx) error {
			t.Fatal("callback must not run for invalid tenant id")
			return nil
		})
		require.ErrorIs(t, err, tenant.ErrInvalidID, "id %q", id)
	}

	require.Equal(t, 0, beginner.calls, "no transaction may start for an invalid tenant id")
}

func TestWithSuperAdminRequiresReason(t *testing.T) {
	beginner := &recordingBeginner{}
	db := newTenantDB(beginner, audit.NewRecorder())

	err := db.WithSuperAdmin(context.Background(), "admin-1", "   ", func(tx pgx.Tx) error {
		t.Fatal("callback must not run without a reason")
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 0, beginner.calls)
}

func TestWithSuperAdminAuditsBeforeAccess(t *testing.T) {
	beginner := &recordingBeginner{}
	recorder := audit.NewRecorder()
	db := newTenantDB(beginner, recorder)

	// BeginTx fails in unit tests, but the audit entry must already be
	// recorded by then.
	_ = db.WithSuperAdmin(context.Background(), "admin-1", "billing dispute follow-up", func(tx pgx.Tx) error {
		return nil
	})

	entries := recorder.ByAction("data.unscoped_access")
	require.Len(t, entries, 1)
	require.Equal(t, "admin-1", entries[0].ActorID)
	require.Equal(t, "billing dispute follow-up", entries[0].NewValues["reason"])
	require.Equal(t, 1, beginner.calls)
}

func TestNewTenantDBRequiresDependencies(t *testing.T) {
	require.Panics(t, func() {
		NewTenantDB(TenantDBConfig{})
	})
}

func TestWithTenantBindsAndClearsBinding(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()

	ctx := context.Background()
	db := NewTenantDB(TenantDBConfig{Pool: pool, Audit: audit.NewRecorder()})

	scope, err := tenant.NewScope(tenant.NewID(), false)
	require.NoError(t, err)

	err = db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		bound, err := CurrentTenantID(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, scope.TenantID, bound)
		return nil
	})
	require.NoError(t, err)

	// The binding is transaction-local; a fresh transaction on the same pool
	// must not see it.
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx) // nolint:errcheck

	bound, err := CurrentTenantID(ctx, tx)
	require.NoError(t, err)
	require.Empty(t, bound)
}

func TestWithTenantRollsBackOnCallbackError(t *testing.T) {
	pool, cleanup := mustTestPool(t)
	defer cleanup()

	ctx := context.Background()
	db := NewTenantDB(TenantDBConfig{Pool: pool, Audit: audit.NewRecorder()})

	scope, err := tenant.NewScope(tenant.NewID(), false)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, scope.TenantID, "Rollback Fleet"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM tenants WHERE id = $1`, scope.TenantID).Scan(&count))
	require.Zero(t, count)
}
