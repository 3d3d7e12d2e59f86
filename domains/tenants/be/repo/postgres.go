package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
)

// PostgresRepository stores registry entries in the platform tenants table.
// The table is platform metadata, so queries run on the pool directly rather
// than through the tenant guard.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository backed by the shared pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("pgx pool is required")
	}
	return &PostgresRepository{pool: pool}
}

const tenantColumns = `id, name, plan_tier, status, subscription_start, subscription_end, suspended_at, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, plan_tier, status, subscription_start, subscription_end, suspended_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+tenantColumns,
		t.ID, t.Name, string(t.PlanTier), string(t.Status), t.SubscriptionStart, t.SubscriptionEnd, t.SuspendedAt, t.CreatedAt, t.UpdatedAt,
	)
	return scanTenant(row)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (service.Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	offset := (opts.Page - 1) * opts.PageSize

	var statusFilter *string
	if opts.Status != nil {
		s := string(*opts.Status)
		statusFilter = &s
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM tenants WHERE ($1::text IS NULL OR status = $1)`, statusFilter,
	).Scan(&total); err != nil {
		return service.ListResult{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`,
		statusFilter, opts.PageSize, offset,
	)
	if err != nil {
		return service.ListResult{}, err
	}
	defer rows.Close()

	var tenants []service.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return service.ListResult{}, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return service.ListResult{}, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + opts.PageSize - 1) / opts.PageSize
	}

	return service.ListResult{
		Tenants:    tenants,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

func (r *PostgresRepository) Update(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tenants
		SET name = $2, plan_tier = $3, status = $4, subscription_start = $5, subscription_end = $6, suspended_at = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+tenantColumns,
		t.ID, t.Name, string(t.PlanTier), string(t.Status), t.SubscriptionStart, t.SubscriptionEnd, t.SuspendedAt, t.UpdatedAt,
	)
	return scanTenant(row)
}

func scanTenant(row pgx.Row) (service.Tenant, error) {
	var (
		t          service.Tenant
		planTier   string
		statusName string
	)
	err := row.Scan(&t.ID, &t.Name, &planTier, &statusName, &t.SubscriptionStart, &t.SubscriptionEnd, &t.SuspendedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return service.Tenant{}, mapError(err)
	}

	plan, err := service.ParsePlanTier(planTier)
	if err != nil {
		return service.Tenant{}, err
	}
	status, err := service.ParseStatus(statusName)
	if err != nil {
		return service.Tenant{}, err
	}

	t.PlanTier = plan
	t.Status = status
	return t, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return service.ErrConflict
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
