package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mutare-labs/fleetpay-saas/domains/fleet/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/persistence"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// PostgresRepository stores drivers and vehicles through the tenant guard.
// It holds no raw pool: every query runs inside WithTenant, and inserts stamp
// tenant_id from the transaction's binding so the stamp and the RLS check can
// never disagree.
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

const driverColumns = `id, tenant_id, user_id, full_name, phone, debt_balance_cents, created_at, updated_at`

func (r *PostgresRepository) CreateDriver(ctx context.Context, scope tenant.Scope, d service.Driver) (service.Driver, error) {
	var out service.Driver
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO drivers (id, tenant_id, user_id, full_name, phone, debt_balance_cents, created_at, updated_at)
			VALUES ($1, current_setting('app.tenant_id'), $2, $3, $4, 0, $5, $5)
			RETURNING `+driverColumns,
			d.ID, d.UserID, d.FullName, d.Phone, d.CreatedAt,
		)
		var err error
		out, err = scanDriver(row)
		return err
	})
	if err != nil {
		return service.Driver{}, mapDriverError(err)
	}
	return out, nil
}

func (r *PostgresRepository) GetDriver(ctx context.Context, scope tenant.Scope, id uuid.UUID) (service.Driver, error) {
	var out service.Driver
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
		var err error
		out, err = scanDriver(row)
		return err
	})
	if err != nil {
		return service.Driver{}, mapDriverError(err)
	}
	return out, nil
}

func (r *PostgresRepository) ListDrivers(ctx context.Context, scope tenant.Scope) ([]service.Driver, error) {
	var out []service.Driver
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			d, err := scanDriver(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const vehicleColumns = `id, tenant_id, registration, payment_model, payment_config, created_at, updated_at`

func (r *PostgresRepository) CreateVehicle(ctx context.Context, scope tenant.Scope, v service.Vehicle) (service.Vehicle, error) {
	var out service.Vehicle
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO vehicles (id, tenant_id, registration, payment_model, payment_config, created_at, updated_at)
			VALUES ($1, current_setting('app.tenant_id'), $2, $3, $4, $5, $5)
			RETURNING `+vehicleColumns,
			v.ID, v.Registration, string(v.PaymentModel), v.RawConfig, v.CreatedAt,
		)
		var err error
		out, err = scanVehicle(row)
		return err
	})
	if err != nil {
		return service.Vehicle{}, mapVehicleError(err)
	}
	return out, nil
}

func (r *PostgresRepository) GetVehicle(ctx context.Context, scope tenant.Scope, id uuid.UUID) (service.Vehicle, error) {
	var out service.Vehicle
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
		var err error
		out, err = scanVehicle(row)
		return err
	})
	if err != nil {
		return service.Vehicle{}, mapVehicleError(err)
	}
	return out, nil
}

func (r *PostgresRepository) ListVehicles(ctx context.Context, scope tenant.Scope) ([]service.Vehicle, error) {
	var out []service.Vehicle
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanVehicle(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) UpdateVehicle(ctx context.Context, scope tenant.Scope, v service.Vehicle) (service.Vehicle, error) {
	var out service.Vehicle
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE vehicles
			SET payment_model = $2, payment_config = $3, updated_at = $4
			WHERE id = $1
			RETURNING `+vehicleColumns,
			v.ID, string(v.PaymentModel), v.RawConfig, v.UpdatedAt,
		)
		var err error
		out, err = scanVehicle(row)
		return err
	})
	if err != nil {
		return service.Vehicle{}, mapVehicleError(err)
	}
	return out, nil
}

func scanDriver(row pgx.Row) (service.Driver, error) {
	var d service.Driver
	err := row.Scan(&d.ID, &d.TenantID, &d.UserID, &d.FullName, &d.Phone, &d.DebtBalanceCents, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return service.Driver{}, err
	}
	return d, nil
}

func scanVehicle(row pgx.Row) (service.Vehicle, error) {
	var (
		v     service.Vehicle
		model string
	)
	err := row.Scan(&v.ID, &v.TenantID, &v.Registration, &model, &v.RawConfig, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return service.Vehicle{}, err
	}

	parsed, err := service.ParsePaymentModel(model)
	if err != nil {
		return service.Vehicle{}, err
	}
	v.PaymentModel = parsed

	cfg, err := service.ValidatePaymentConfig(parsed, v.RawConfig)
	if err != nil {
		return service.Vehicle{}, err
	}
	v.Config = cfg
	return v, nil
}

func mapDriverError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrDriverNotFound
	}
	return err
}

func mapVehicleError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrVehicleNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return service.ErrVehicleConflict
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
