package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mutare-labs/fleetpay-saas/domains/remittances/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/persistence"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// PostgresRepository stores remittances through the tenant guard. Status
// transitions, the driver debt delta, and the audit row commit in one
// transaction: the remittance row is locked first, the status write is a
// compare-and-set on the expected prior status, and the driver row is locked
// before the debt update so concurrent approvals serialize. Create and Update
// take the same driver lock before reading the period sum, so target stamps
// serialize against those approvals too.
type PostgresRepository struct {
	db *persistence.TenantDB
}

// NewPostgresRepository constructs a repository backed by the tenant guard.
func NewPostgresRepository(db *persistence.TenantDB) *PostgresRepository {
	if db == nil {
		panic("tenant db is required")
	}
	return &PostgresRepository{db: db}
}

const remittanceColumns = `id, tenant_id, driver_id, vehicle_id, amount_cents, remitted_at, status, target_amount_cents, target_reached, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, scope tenant.Scope, rem service.Remittance, stamp *service.TargetStamp) (service.Remittance, error) {
	var out service.Remittance
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		if err := applyStamp(ctx, tx, &rem, stamp); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO remittances (id, tenant_id, driver_id, vehicle_id, amount_cents, remitted_at, status, target_amount_cents, target_reached, created_at, updated_at)
			VALUES ($1, current_setting('app.tenant_id'), $2, $3, $4, $5, $6, $7, $8, $9, $9)
			RETURNING `+remittanceColumns,
			rem.ID, rem.DriverID, rem.VehicleID, rem.AmountCents, rem.RemittedAt, string(rem.Status), rem.TargetAmountCents, rem.TargetReached, rem.CreatedAt,
		)
		var err error
		out, err = scanRemittance(row)
		return err
	})
	if err != nil {
		return service.Remittance{}, mapError(err)
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (service.Remittance, error) {
	var out service.Remittance
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+remittanceColumns+` FROM remittances WHERE id = $1`, id)
		var err error
		out, err = scanRemittance(row)
		return err
	})
	if err != nil {
		return service.Remittance{}, mapError(err)
	}
	return out, nil
}

func (r *PostgresRepository) List(ctx context.Context, scope tenant.Scope, opts service.ListOptions) ([]service.Remittance, error) {
	var out []service.Remittance
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		var statusFilter *string
		if opts.Status != nil {
			s := string(*opts.Status)
			statusFilter = &s
		}

		rows, err := tx.Query(ctx, `
			SELECT `+remittanceColumns+`
			FROM remittances
			WHERE ($1::uuid IS NULL OR driver_id = $1)
			  AND ($2::uuid IS NULL OR vehicle_id = $2)
			  AND ($3::text IS NULL OR status = $3)
			  AND ($4::timestamptz IS NULL OR remitted_at >= $4)
			  AND ($5::timestamptz IS NULL OR remitted_at < $5)
			ORDER BY remitted_at, id`,
			opts.DriverID, opts.VehicleID, statusFilter, opts.From, opts.To,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rem, err := scanRemittance(rows)
			if err != nil {
				return err
			}
			out = append(out, rem)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, scope tenant.Scope, rem service.Remittance, stamp *service.TargetStamp) (service.Remittance, error) {
	var out service.Remittance
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		if err := applyStamp(ctx, tx, &rem, stamp); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			UPDATE remittances
			SET amount_cents = $2, remitted_at = $3, target_amount_cents = $4, target_reached = $5, updated_at = $6
			WHERE id = $1 AND status = 'PENDING'
			RETURNING `+remittanceColumns,
			rem.ID, rem.AmountCents, rem.RemittedAt, rem.TargetAmountCents, rem.TargetReached, rem.UpdatedAt,
		)
		var err error
		out, err = scanRemittance(row)
		return err
	})
	if err != nil {
		return service.Remittance{}, mapError(err)
	}
	return out, nil
}

// applyStamp fills the target fields from the period's approved sum on the
// transaction that carries the row write. The driver row is locked first so a
// concurrent approval for the same driver cannot commit between the sum and
// the stamped write.
func applyStamp(ctx context.Context, tx pgx.Tx, rem *service.Remittance, stamp *service.TargetStamp) error {
	if stamp == nil {
		return nil
	}

	var driverID uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT id FROM drivers WHERE id = $1 FOR UPDATE`, stamp.Period.DriverID,
	).Scan(&driverID); err != nil {
		return fmt.Errorf("lock driver row: %w", err)
	}

	var sum int64
	if err := tx.QueryRow(ctx, `
		SELECT coalesce(sum(amount_cents), 0)
		FROM remittances
		WHERE driver_id = $1
		  AND vehicle_id = $2
		  AND status = 'APPROVED'
		  AND remitted_at >= $3
		  AND remitted_at < $4
		  AND ($5::uuid IS NULL OR id <> $5)`,
		stamp.Period.DriverID, stamp.Period.VehicleID, stamp.Period.Start, stamp.Period.End, stamp.Period.ExcludeID,
	).Scan(&sum); err != nil {
		return fmt.Errorf("sum approved remittances: %w", err)
	}

	remaining := service.RemainingBalance(stamp.TargetCents, sum)
	rem.TargetAmountCents = &remaining
	rem.TargetReached = service.TargetReached(rem.AmountCents, &remaining)
	return nil
}

func (r *PostgresRepository) Transition(ctx context.Context, scope tenant.Scope, id uuid.UUID, from, to service.Status, entry audit.Entry) (service.Remittance, error) {
	var out service.Remittance
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		var (
			driverID    uuid.UUID
			amountCents int64
			status      string
		)
		err := tx.QueryRow(ctx,
			`SELECT driver_id, amount_cents, status FROM remittances WHERE id = $1 FOR UPDATE`, id,
		).Scan(&driverID, &amountCents, &status)
		if err != nil {
			return err
		}
		if status != string(from) {
			return service.ErrConcurrencyConflict
		}

		// Lock the driver row before touching the ledger so concurrent
		// transitions for the same driver serialize here.
		var debt int64
		if err := tx.QueryRow(ctx,
			`SELECT debt_balance_cents FROM drivers WHERE id = $1 FOR UPDATE`, driverID,
		).Scan(&debt); err != nil {
			return fmt.Errorf("lock driver row: %w", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE remittances
			SET status = $2, updated_at = now()
			WHERE id = $1 AND status = $3
			RETURNING `+remittanceColumns,
			id, string(to), string(from),
		)
		out, err = scanRemittance(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return service.ErrConcurrencyConflict
			}
			return err
		}

		if delta := service.TransitionDelta(from, to, amountCents); delta != 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE drivers SET debt_balance_cents = debt_balance_cents + $2, updated_at = now() WHERE id = $1`,
				driverID, delta,
			); err != nil {
				return fmt.Errorf("apply ledger delta: %w", err)
			}
		}

		return audit.Insert(ctx, tx, entry)
	})
	if err != nil {
		return service.Remittance{}, mapError(err)
	}
	return out, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, scope tenant.Scope, id uuid.UUID, entry audit.Entry) error {
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		var (
			driverID    uuid.UUID
			amountCents int64
			status      string
		)
		err := tx.QueryRow(ctx,
			`SELECT driver_id, amount_cents, status FROM remittances WHERE id = $1 FOR UPDATE`, id,
		).Scan(&driverID, &amountCents, &status)
		if err != nil {
			return err
		}

		if status == string(service.StatusApproved) {
			var debt int64
			if err := tx.QueryRow(ctx,
				`SELECT debt_balance_cents FROM drivers WHERE id = $1 FOR UPDATE`, driverID,
			).Scan(&debt); err != nil {
				return fmt.Errorf("lock driver row: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE drivers SET debt_balance_cents = debt_balance_cents + $2, updated_at = now() WHERE id = $1`,
				driverID, amountCents,
			); err != nil {
				return fmt.Errorf("restore ledger: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM remittances WHERE id = $1`, id); err != nil {
			return err
		}

		entry.OldValues = map[string]any{
			"amountCents": amountCents,
			"status":      status,
		}
		return audit.Insert(ctx, tx, entry)
	})
	return mapError(err)
}

func scanRemittance(row pgx.Row) (service.Remittance, error) {
	var (
		rem    service.Remittance
		status string
	)
	err := row.Scan(&rem.ID, &rem.TenantID, &rem.DriverID, &rem.VehicleID, &rem.AmountCents, &rem.RemittedAt, &status, &rem.TargetAmountCents, &rem.TargetReached, &rem.CreatedAt, &rem.UpdatedAt)
	if err != nil {
		return service.Remittance{}, err
	}

	parsed, err := service.ParseStatus(status)
	if err != nil {
		return service.Remittance{}, err
	}
	rem.Status = parsed
	return rem, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
