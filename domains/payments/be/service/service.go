package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tenants "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// Domain sentinel errors.
var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrAlreadyVerified = errors.New("payment already verified")
	ErrAmountMismatch  = errors.New("gateway amount does not match expected amount")
	ErrGatewayUnpaid   = errors.New("gateway reports the transaction as unpaid")
	ErrHashInvalid     = errors.New("gateway response failed hash verification")
	ErrNoScope         = errors.New("tenant scope missing from context")
)

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
	InvoiceRefunded  InvoiceStatus = "REFUNDED"
)

// InvoiceType distinguishes recurring subscription invoices from one-off
// plan upgrades.
type InvoiceType string

const (
	InvoiceSubscription InvoiceType = "SUBSCRIPTION"
	InvoiceUpgrade      InvoiceType = "UPGRADE"
)

// Invoice is a billing document the tenant pays through the gateway.
type Invoice struct {
	ID          uuid.UUID
	TenantID    string
	AmountCents int64
	Status      InvoiceStatus
	Type        InvoiceType
	PlanTier    *tenants.PlanTier
	DueAt       *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentStatus is the payment lifecycle state.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// Payment is one gateway transaction against an invoice.
type Payment struct {
	ID               uuid.UUID
	TenantID         string
	InvoiceID        uuid.UUID
	Reference        string
	GatewayReference string
	PollURL          string
	AmountCents      int64
	Status           PaymentStatus
	Verified         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Repository abstracts payment persistence. TenantForReference is the one
// unscoped lookup, used by the webhook path before a scope exists; it runs
// through the audited super-admin path.
type Repository interface {
	CreateInvoice(ctx context.Context, scope tenant.Scope, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Invoice, error)
	ListInvoices(ctx context.Context, scope tenant.Scope) ([]Invoice, error)
	CreatePayment(ctx context.Context, scope tenant.Scope, p Payment) (Payment, error)
	GetPaymentByReference(ctx context.Context, scope tenant.Scope, reference string) (Payment, error)
	FinalizeVerification(ctx context.Context, scope tenant.Scope, paymentID, invoiceID uuid.UUID, gatewayReference string, entry audit.Entry) (Payment, error)
	HasOverdueInvoices(ctx context.Context, scope tenant.Scope) (bool, error)
	TenantForReference(ctx context.Context, reference string) (string, error)
}

// TenantDirectory is the slice of the tenant registry reconciliation needs:
// reading the tenant, applying a purchased plan change, and reactivating a
// suspended tenant once its debts clear.
type TenantDirectory interface {
	Get(ctx context.Context, id string) (tenants.Tenant, error)
	ChangePlan(ctx context.Context, actorID, id string, plan tenants.PlanTier) (tenants.Tenant, error)
	Reactivate(ctx context.Context, actorID, id string) (tenants.Tenant, error)
}

// Notifier delivers payment notifications. Failures are logged and never
// block reconciliation.
type Notifier interface {
	PaymentVerified(ctx context.Context, tenantID string, p Payment) error
}

// Service reconciles gateway payments against invoices.
type Service struct {
	repo     Repository
	gateway  Gateway
	tenants  TenantDirectory
	notifier Notifier
	audit    audit.Emitter
	logger   *zap.Logger
	now      func() time.Time
}

// Config wires the service dependencies. Notifier is optional.
type Config struct {
	Repo     Repository
	Gateway  Gateway
	Tenants  TenantDirectory
	Notifier Notifier
	Audit    audit.Emitter
	Logger   *zap.Logger
}

// New constructs a Service with required dependencies.
func New(cfg Config) *Service {
	if cfg.Repo == nil {
		panic("payments repository is required")
	}
	if cfg.Gateway == nil {
		panic("payment gateway is required")
	}
	if cfg.Tenants == nil {
		panic("tenant directory is required")
	}
	if cfg.Audit == nil {
		panic("audit emitter is required")
	}
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &Service{
		repo:     cfg.Repo,
		gateway:  cfg.Gateway,
		tenants:  cfg.Tenants,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

func scopeFrom(ctx context.Context) (tenant.Scope, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Scope{}, ErrNoScope
	}
	return scope, nil
}

// CreateInvoice records a new invoice for the caller's tenant.
func (s *Service) CreateInvoice(ctx context.Context, actorID string, amountCents int64, invType InvoiceType, planTier *tenants.PlanTier, dueAt *time.Time) (Invoice, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Invoice{}, err
	}
	if amountCents < 0 {
		return Invoice{}, fmt.Errorf("invoice amount must not be negative")
	}

	now := s.now().UTC()
	inv := Invoice{
		ID:          uuid.New(),
		TenantID:    scope.TenantID,
		AmountCents: amountCents,
		Status:      InvoicePending,
		Type:        invType,
		PlanTier:    planTier,
		DueAt:       dueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateInvoice(ctx, scope, inv)
	if err != nil {
		return Invoice{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "invoice.created",
		EntityType: "invoice",
		EntityID:   created.ID.String(),
		TenantID:   scope.TenantID,
		NewValues:  map[string]any{"amountCents": created.AmountCents, "type": string(created.Type)},
	}); err != nil {
		return Invoice{}, err
	}

	return created, nil
}

// ListInvoices returns the tenant's invoices.
func (s *Service) ListInvoices(ctx context.Context) ([]Invoice, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInvoices(ctx, scope)
}

// Initiate records a pending payment against an invoice with a fresh
// merchant reference. The poll URL comes back from the gateway's redirect
// flow and is stored for later verification.
func (s *Service) Initiate(ctx context.Context, actorID string, invoiceID uuid.UUID, pollURL string) (Payment, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Payment{}, err
	}

	inv, err := s.repo.GetInvoice(ctx, scope, invoiceID)
	if err != nil {
		return Payment{}, err
	}
	if inv.Status == InvoicePaid {
		return Payment{}, ErrAlreadyVerified
	}

	now := s.now().UTC()
	p := Payment{
		ID:          uuid.New(),
		TenantID:    scope.TenantID,
		InvoiceID:   inv.ID,
		Reference:   "FP-" + strings.ToUpper(uuid.NewString()[:13]),
		PollURL:     pollURL,
		AmountCents: inv.AmountCents,
		Status:      PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreatePayment(ctx, scope, p)
	if err != nil {
		return Payment{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "payment.initiated",
		EntityType: "payment",
		EntityID:   created.ID.String(),
		TenantID:   scope.TenantID,
		NewValues:  map[string]any{"reference": created.Reference, "amountCents": created.AmountCents},
	}); err != nil {
		return Payment{}, err
	}

	return created, nil
}

// Verify polls the gateway for the payment's status and, on success,
// finalizes the payment and invoice in one transaction, applies any plan
// change the invoice purchased, and reactivates a suspended tenant whose
// overdue invoices are now clear. Amounts are compared by cents equality
// only; any difference fails verification.
func (s *Service) Verify(ctx context.Context, actorID, reference string) (Payment, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Payment{}, err
	}

	payment, err := s.repo.GetPaymentByReference(ctx, scope, reference)
	if err != nil {
		return Payment{}, err
	}
	if payment.Verified {
		return Payment{}, ErrAlreadyVerified
	}

	result, err := s.gateway.PollStatus(ctx, payment.PollURL)
	if err != nil {
		return Payment{}, fmt.Errorf("poll gateway: %w", err)
	}
	if !result.HashValid {
		s.logger.Warn("gateway response failed hash verification",
			zap.String("tenant_id", scope.TenantID),
			zap.String("reference", reference),
		)
		return Payment{}, ErrHashInvalid
	}
	if !result.Paid {
		return Payment{}, ErrGatewayUnpaid
	}

	if result.AmountCents != payment.AmountCents {
		s.logger.Warn("payment amount mismatch",
			zap.String("tenant_id", scope.TenantID),
			zap.String("reference", reference),
			zap.Int64("expected_cents", payment.AmountCents),
			zap.Int64("gateway_cents", result.AmountCents),
		)
		if err := s.audit.Record(ctx, audit.Entry{
			ActorID:    actorID,
			Action:     "payment.amount_mismatch",
			EntityType: "payment",
			EntityID:   payment.ID.String(),
			TenantID:   scope.TenantID,
			NewValues: map[string]any{
				"expectedCents": payment.AmountCents,
				"gatewayCents":  result.AmountCents,
			},
		}); err != nil {
			return Payment{}, err
		}
		return Payment{}, ErrAmountMismatch
	}

	invoice, err := s.repo.GetInvoice(ctx, scope, payment.InvoiceID)
	if err != nil {
		return Payment{}, err
	}

	entry := audit.Entry{
		ActorID:    actorID,
		Action:     "payment.verified",
		EntityType: "payment",
		EntityID:   payment.ID.String(),
		TenantID:   scope.TenantID,
		OldValues:  map[string]any{"status": string(payment.Status), "verified": false},
		NewValues:  map[string]any{"status": string(PaymentPaid), "verified": true, "amountCents": payment.AmountCents},
	}

	finalized, err := s.repo.FinalizeVerification(ctx, scope, payment.ID, invoice.ID, result.GatewayReference, entry)
	if err != nil {
		return Payment{}, err
	}

	if invoice.Type == InvoiceUpgrade && invoice.PlanTier != nil {
		if _, err := s.tenants.ChangePlan(ctx, actorID, scope.TenantID, *invoice.PlanTier); err != nil {
			return Payment{}, fmt.Errorf("apply purchased plan change: %w", err)
		}
	}

	if err := s.maybeReactivate(ctx, actorID, scope); err != nil {
		return Payment{}, err
	}

	s.notify(ctx, scope.TenantID, finalized)
	return finalized, nil
}

// VerifyFromWebhook resolves the tenant owning the reference through the
// audited unscoped path, then runs the normal verification under that
// tenant's scope. The webhook payload itself is never trusted for state; the
// gateway is re-polled.
func (s *Service) VerifyFromWebhook(ctx context.Context, reference string) (Payment, error) {
	tenantID, err := s.repo.TenantForReference(ctx, reference)
	if err != nil {
		return Payment{}, err
	}

	scope, err := tenant.NewScope(tenantID, false)
	if err != nil {
		return Payment{}, err
	}

	return s.Verify(tenant.WithScope(ctx, scope), "gateway-webhook", reference)
}

// maybeReactivate lifts a suspension once no overdue invoices remain.
func (s *Service) maybeReactivate(ctx context.Context, actorID string, scope tenant.Scope) error {
	t, err := s.tenants.Get(ctx, scope.TenantID)
	if err != nil {
		return err
	}
	if t.Status != tenants.StatusSuspended {
		return nil
	}

	overdue, err := s.repo.HasOverdueInvoices(ctx, scope)
	if err != nil {
		return err
	}
	if overdue {
		return nil
	}

	if _, err := s.tenants.Reactivate(ctx, actorID, scope.TenantID); err != nil {
		return fmt.Errorf("reactivate tenant: %w", err)
	}
	return nil
}

// notify is best-effort: a failing notifier is logged, never propagated.
func (s *Service) notify(ctx context.Context, tenantID string, p Payment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PaymentVerified(ctx, tenantID, p); err != nil {
		s.logger.Warn("payment notification failed",
			zap.String("tenant_id", tenantID),
			zap.String("reference", p.Reference),
			zap.Error(err),
		)
	}
}
