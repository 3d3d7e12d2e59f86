package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mutare-labs/fleetpay-saas/domains/payments/be/service"
	tenants "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/persistence"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

const invoiceColumns = `id, tenant_id, amount_cents, status, invoice_type, plan_tier, due_at, created_at, updated_at`

const paymentColumns = `id, tenant_id, invoice_id, reference, gateway_reference, poll_url, amount_cents, status, verified, created_at, updated_at`

// PostgresRepository persists invoices and payments through the tenant guard.
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

// CreateInvoice implements service.Repository.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, scope tenant.Scope, inv service.Invoice) (service.Invoice, error) {
	var created service.Invoice
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO invoices (id, tenant_id, amount_cents, status, invoice_type, plan_tier, due_at)
			VALUES ($1, current_setting('app.tenant_id'), $2, $3, $4, $5, $6)
			RETURNING `+invoiceColumns,
			inv.ID, inv.AmountCents, string(inv.Status), string(inv.Type), planTierText(inv.PlanTier), inv.DueAt,
		)
		var err error
		created, err = scanInvoice(row)
		return err
	})
	if err != nil {
		return service.Invoice{}, mapInvoiceError(err)
	}
	return created, nil
}

// GetInvoice implements service.Repository.
func (r *PostgresRepository) GetInvoice(ctx context.Context, scope tenant.Scope, id uuid.UUID) (service.Invoice, error) {
	var inv service.Invoice
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
		var err error
		inv, err = scanInvoice(row)
		return err
	})
	if err != nil {
		return service.Invoice{}, mapInvoiceError(err)
	}
	return inv, nil
}

// ListInvoices implements service.Repository.
func (r *PostgresRepository) ListInvoices(ctx context.Context, scope tenant.Scope) ([]service.Invoice, error) {
	var invoices []service.Invoice
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			inv, err := scanInvoice(rows)
			if err != nil {
				return err
			}
			invoices = append(invoices, inv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapInvoiceError(err)
	}
	return invoices, nil
}

// CreatePayment implements service.Repository.
func (r *PostgresRepository) CreatePayment(ctx context.Context, scope tenant.Scope, p service.Payment) (service.Payment, error) {
	var created service.Payment
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO payments (id, tenant_id, invoice_id, reference, gateway_reference, poll_url, amount_cents, status, verified)
			VALUES ($1, current_setting('app.tenant_id'), $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+paymentColumns,
			p.ID, p.InvoiceID, p.Reference, p.GatewayReference, p.PollURL, p.AmountCents, string(p.Status), p.Verified,
		)
		var err error
		created, err = scanPayment(row)
		return err
	})
	if err != nil {
		return service.Payment{}, mapPaymentError(err)
	}
	return created, nil
}

// GetPaymentByReference implements service.Repository.
func (r *PostgresRepository) GetPaymentByReference(ctx context.Context, scope tenant.Scope, reference string) (service.Payment, error) {
	var p service.Payment
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
		var err error
		p, err = scanPayment(row)
		return err
	})
	if err != nil {
		return service.Payment{}, mapPaymentError(err)
	}
	return p, nil
}

// FinalizeVerification marks the payment verified and the invoice paid in a
// single transaction, with the audit entry written on the same transaction so
// the trail cannot diverge from the state change.
func (r *PostgresRepository) FinalizeVerification(ctx context.Context, scope tenant.Scope, paymentID, invoiceID uuid.UUID, gatewayReference string, entry audit.Entry) (service.Payment, error) {
	var finalized service.Payment
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE payments
			SET status = 'PAID', verified = true, gateway_reference = $2, updated_at = now()
			WHERE id = $1 AND verified = false
			RETURNING `+paymentColumns,
			paymentID, gatewayReference,
		)
		var err error
		finalized, err = scanPayment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return service.ErrAlreadyVerified
			}
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE invoices SET status = 'PAID', updated_at = now() WHERE id = $1`,
			invoiceID,
		); err != nil {
			return fmt.Errorf("mark invoice paid: %w", err)
		}

		return audit.Insert(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, service.ErrAlreadyVerified) {
			return service.Payment{}, err
		}
		return service.Payment{}, mapPaymentError(err)
	}
	return finalized, nil
}

// HasOverdueInvoices implements service.Repository.
func (r *PostgresRepository) HasOverdueInvoices(ctx context.Context, scope tenant.Scope) (bool, error) {
	var overdue bool
	err := r.db.WithTenant(ctx, scope, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM invoices WHERE status = 'OVERDUE')`,
		).Scan(&overdue)
	})
	if err != nil {
		return false, err
	}
	return overdue, nil
}

// TenantForReference resolves which tenant owns a payment reference. Webhooks
// arrive before any tenant scope exists, so this is the one lookup that runs
// through the audited unscoped path.
func (r *PostgresRepository) TenantForReference(ctx context.Context, reference string) (string, error) {
	var tenantID string
	err := r.db.WithSuperAdmin(ctx, "gateway-webhook", "resolve tenant for gateway payment notification", func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT tenant_id FROM payments WHERE reference = $1`, reference,
		).Scan(&tenantID)
	})
	if err != nil {
		return "", mapPaymentError(err)
	}
	return tenantID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (service.Invoice, error) {
	var (
		inv      service.Invoice
		status   string
		invType  string
		planTier *string
	)
	if err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.AmountCents, &status, &invType, &planTier,
		&inv.DueAt, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return service.Invoice{}, err
	}
	inv.Status = service.InvoiceStatus(status)
	inv.Type = service.InvoiceType(invType)
	if planTier != nil {
		tier, err := tenants.ParsePlanTier(*planTier)
		if err != nil {
			return service.Invoice{}, fmt.Errorf("stored plan tier: %w", err)
		}
		inv.PlanTier = &tier
	}
	return inv, nil
}

func scanPayment(row rowScanner) (service.Payment, error) {
	var (
		p      service.Payment
		status string
	)
	if err := row.Scan(
		&p.ID, &p.TenantID, &p.InvoiceID, &p.Reference, &p.GatewayReference,
		&p.PollURL, &p.AmountCents, &status, &p.Verified, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return service.Payment{}, err
	}
	p.Status = service.PaymentStatus(status)
	return p, nil
}

func planTierText(tier *tenants.PlanTier) *string {
	if tier == nil {
		return nil
	}
	s := string(*tier)
	return &s
}

func mapInvoiceError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrInvoiceNotFound
	}
	return err
}

func mapPaymentError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrPaymentNotFound
	}
	return err
}
