package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mutare-labs/fleetpay-saas/domains/users/be/service"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/persistence"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

const userColumns = `id, tenant_id, email, full_name, role, created_at`

// PostgresRepository persists users through the tenant guard.
type PostgresRepository struct {
	db *persistence.TenantDB
}

// NewPostgresRepository constructs the store.
func NewPostgresRepository(db *persistence.TenantDB) *PostgresRepository {
	if db == nil {
		panic("tenant db is required")
	}
	return &PostgresRepository{db: db}
}

// Create implements service.Repository.
func (r *PostgresRepository) Create(ctx context.Context, scope tenant.Scope, u service.User) (service.User, error) {
	var created service.User
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO users (id, tenant_id, email, full_name, role)
			VALUES ($1, current_setting('app.tenant_id'), $2, $3, $4)
			RETURNING `+userColumns,
			u.ID, u.Email, u.FullName, string(u.Role),
		)
		var err error
		created, err = scanUser(row)
		return err
	})
	if err != nil {
		return service.User{}, mapError(err)
	}
	return created, nil
}

// Get implements service.Repository.
func (r *PostgresRepository) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (service.User, error) {
	var u service.User
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
		var err error
		u, err = scanUser(row)
		return err
	})
	if err != nil {
		return service.User{}, mapError(err)
	}
	return u, nil
}

// List implements service.Repository.
func (r *PostgresRepository) List(ctx context.Context, scope tenant.Scope, opts service.ListOptions) ([]service.User, error) {
	var roleFilter *string
	if opts.Role != nil {
		s := string(*opts.Role)
		roleFilter = &s
	}

	var users []service.User
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+userColumns+`
			FROM users
			WHERE ($1::text IS NULL OR email = $1)
			  AND ($2::text IS NULL OR role = $2)
			ORDER BY created_at DESC`,
			opts.Email, roleFilter,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

// UpdateRole implements service.Repository.
func (r *PostgresRepository) UpdateRole(ctx context.Context, scope tenant.Scope, id uuid.UUID, role platformauth.Role) (service.User, error) {
	var updated service.User
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE users SET role = $2 WHERE id = $1
			RETURNING `+userColumns,
			id, string(role),
		)
		var err error
		updated, err = scanUser(row)
		return err
	})
	if err != nil {
		return service.User{}, mapError(err)
	}
	return updated, nil
}

// Delete implements service.Repository.
func (r *PostgresRepository) Delete(ctx context.Context, scope tenant.Scope, id uuid.UUID) error {
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	return mapError(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (service.User, error) {
	var (
		u    service.User
		role string
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.FullName, &role, &u.CreatedAt); err != nil {
		return service.User{}, err
	}
	parsed, err := platformauth.ParseRole(role)
	if err != nil {
		return service.User{}, err
	}
	u.Role = parsed
	return u, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return service.ErrConflict
	}
	return err
}
