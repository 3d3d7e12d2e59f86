package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tenants "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

const testTenantID = "cabcdefghijklmnopqrstuvwx"

type mockRepository struct {
	createInvoiceFn         func(ctx context.Context, scope tenant.Scope, inv Invoice) (Invoice, error)
	getInvoiceFn            func(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Invoice, error)
	listInvoicesFn          func(ctx context.Context, scope tenant.Scope) ([]Invoice, error)
	createPaymentFn         func(ctx context.Context, scope tenant.Scope, p Payment) (Payment, error)
	getPaymentByReferenceFn func(ctx context.Context, scope tenant.Scope, reference string) (Payment, error)
	finalizeFn              func(ctx context.Context, scope tenant.Scope, paymentID, invoiceID uuid.UUID, gatewayReference string, entry audit.Entry) (Payment, error)
	hasOverdueFn            func(ctx context.Context, scope tenant.Scope) (bool, error)
	tenantForReferenceFn    func(ctx context.Context, reference string) (string, error)
}

func (m *mockRepository) CreateInvoice(ctx context.Context, scope tenant.Scope, inv Invoice) (Invoice, error) {
	if m.createInvoiceFn == nil {
		panic("unexpected call to CreateInvoice")
	}
	return m.createInvoiceFn(ctx, scope, inv)
}

func (m *mockRepository) GetInvoice(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Invoice, error) {
	if m.getInvoiceFn == nil {
		panic("unexpected call to GetInvoice")
	}
	return m.getInvoiceFn(ctx, scope, id)
}

func (m *mockRepository) ListInvoices(ctx context.Context, scope tenant.Scope) ([]Invoice, error) {
	if m.listInvoicesFn == nil {
		panic("unexpected call to ListInvoices")
	}
	return m.listInvoicesFn(ctx, scope)
}

func (m *mockRepository) CreatePayment(ctx context.Context, scope tenant.Scope, p Payment) (Payment, error) {
	if m.createPaymentFn == nil {
		panic("unexpected call to CreatePayment")
	}
	return m.createPaymentFn(ctx, scope, p)
}

func (m *mockRepository) GetPaymentByReference(ctx context.Context, scope tenant.Scope, reference string) (Payment, error) {
	if m.getPaymentByReferenceFn == nil {
		panic("unexpected call to GetPaymentByReference")
	}
	return m.getPaymentByReferenceFn(ctx, scope, reference)
}

func (m *mockRepository) FinalizeVerification(ctx context.Context, scope tenant.Scope, paymentID, invoiceID uuid.UUID, gatewayReference string, entry audit.Entry) (Payment, error) {
	if m.finalizeFn == nil {
		panic("unexpected call to FinalizeVerification")
	}
	return m.finalizeFn(ctx, scope, paymentID, invoiceID, gatewayReference, entry)
}

func (m *mockRepository) HasOverdueInvoices(ctx context.Context, scope tenant.Scope) (bool, error) {
	if m.hasOverdueFn == nil {
		panic("unexpected call to HasOverdueInvoices")
	}
	return m.hasOverdueFn(ctx, scope)
}

func (m *mockRepository) TenantForReference(ctx context.Context, reference string) (string, error) {
	if m.tenantForReferenceFn == nil {
		panic("unexpected call to TenantForReference")
	}
	return m.tenantForReferenceFn(ctx, reference)
}

type stubGateway struct {
	result GatewayResult
	err    error
	calls  int
}

func (g *stubGateway) PollStatus(ctx context.Context, pollURL string) (GatewayResult, error) {
	g.calls++
	return g.result, g.err
}

type stubTenants struct {
	tenant          tenants.Tenant
	getErr          error
	planChanges     []tenants.PlanTier
	reactivateCalls int
}

func (s *stubTenants) Get(ctx context.Context, id string) (tenants.Tenant, error) {
	return s.tenant, s.getErr
}

func (s *stubTenants) ChangePlan(ctx context.Context, actorID, id string, plan tenants.PlanTier) (tenants.Tenant, error) {
	s.planChanges = append(s.planChanges, plan)
	s.tenant.PlanTier = plan
	return s.tenant, nil
}

func (s *stubTenants) Reactivate(ctx context.Context, actorID, id string) (tenants.Tenant, error) {
	s.reactivateCalls++
	s.tenant.Status = tenants.StatusActive
	return s.tenant, nil
}

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) PaymentVerified(ctx context.Context, tenantID string, p Payment) error {
	n.calls++
	return n.err
}

func scopedContext(t *testing.T) context.Context {
	t.Helper()
	scope, err := tenant.NewScope(testTenantID, false)
	require.NoError(t, err)
	return tenant.WithScope(context.Background(), scope)
}

type verifyFixture struct {
	svc      *Service
	repo     *mockRepository
	gateway  *stubGateway
	tenants  *stubTenants
	notifier *recordingNotifier
	recorder *audit.Recorder
	payment  Payment
	invoice  Invoice
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()

	invoice := Invoice{
		ID:          uuid.New(),
		TenantID:    testTenantID,
		AmountCents: 4999,
		Status:      InvoiceOverdue,
		Type:        InvoiceSubscription,
	}
	payment := Payment{
		ID:          uuid.New(),
		TenantID:    testTenantID,
		InvoiceID:   invoice.ID,
		Reference:   "FP-TEST-0001",
		PollURL:     "https://gateway.example/poll/abc",
		AmountCents: 4999,
		Status:      PaymentPending,
	}

	f := &verifyFixture{
		gateway: &stubGateway{result: GatewayResult{
			Reference:        payment.Reference,
			GatewayReference: "18223",
			AmountCents:      4999,
			Paid:             true,
			HashValid:        true,
		}},
		tenants:  &stubTenants{tenant: tenants.Tenant{ID: testTenantID, Status: tenants.StatusActive, PlanTier: tenants.PlanStarter}},
		notifier: &recordingNotifier{},
		recorder: audit.NewRecorder(),
		payment:  payment,
		invoice:  invoice,
	}

	f.repo = &mockRepository{
		getPaymentByReferenceFn: func(ctx context.Context, scope tenant.Scope, reference string) (Payment, error) {
			require.Equal(t, testTenantID, scope.TenantID)
			require.Equal(t, payment.Reference, reference)
			return f.payment, nil
		},
		getInvoiceFn: func(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Invoice, error) {
			require.Equal(t, invoice.ID, id)
			return f.invoice, nil
		},
		finalizeFn: func(ctx context.Context, scope tenant.Scope, paymentID, invoiceID uuid.UUID, gatewayReference string, entry audit.Entry) (Payment, error) {
			require.Equal(t, payment.ID, paymentID)
			require.Equal(t, invoice.ID, invoiceID)
			require.Equal(t, "18223", gatewayReference)
			require.Equal(t, "payment.verified", entry.Action)
			finalized := f.payment
			finalized.Status = PaymentPaid
			finalized.Verified = true
			finalized.GatewayReference = gatewayReference
			return finalized, nil
		},
	}

	f.svc = New(Config{
		Repo:     f.repo,
		Gateway:  f.gateway,
		Tenants:  f.tenants,
		Notifier: f.notifier,
		Audit:    f.recorder,
		Logger:   zap.NewNop(),
	})
	return f
}

func TestVerifyFinalizesPaidPayment(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	verified, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.NoError(t, err)

	require.True(t, verified.Verified)
	require.Equal(t, PaymentPaid, verified.Status)
	require.Equal(t, "18223", verified.GatewayReference)
	require.Equal(t, 1, f.gateway.calls)
	require.Equal(t, 1, f.notifier.calls)
	require.Empty(t, f.tenants.planChanges)
	require.Zero(t, f.tenants.reactivateCalls)
}

func TestVerifyRequiresScope(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	_, err := f.svc.Verify(context.Background(), "admin-1", "FP-TEST-0001")
	require.ErrorIs(t, err, ErrNoScope)
	require.Zero(t, f.gateway.calls)
}

func TestVerifyAlreadyVerifiedSkipsGateway(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.payment.Verified = true

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.ErrorIs(t, err, ErrAlreadyVerified)
	require.Zero(t, f.gateway.calls)
}

func TestVerifyRejectsInvalidHash(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.gateway.result.HashValid = false
	f.repo.finalizeFn = nil

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.ErrorIs(t, err, ErrHashInvalid)
}

func TestVerifyRejectsUnpaidTransaction(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.gateway.result.Paid = false
	f.repo.finalizeFn = nil

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.ErrorIs(t, err, ErrGatewayUnpaid)
}

func TestVerifyRejectsAmountMismatchByOneCent(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.gateway.result.AmountCents = 4998
	f.repo.finalizeFn = nil

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.ErrorIs(t, err, ErrAmountMismatch)

	mismatches := f.recorder.ByAction("payment.amount_mismatch")
	require.Len(t, mismatches, 1)
	require.Equal(t, int64(4999), mismatches[0].NewValues["expectedCents"])
	require.Equal(t, int64(4998), mismatches[0].NewValues["gatewayCents"])
	require.Zero(t, f.notifier.calls)
}

func TestVerifyAppliesPurchasedPlanUpgrade(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	tier := tenants.PlanGrowth
	f.invoice.Type = InvoiceUpgrade
	f.invoice.PlanTier = &tier

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.NoError(t, err)
	require.Equal(t, []tenants.PlanTier{tenants.PlanGrowth}, f.tenants.planChanges)
}

func TestVerifyReactivatesSuspendedTenantWhenNothingOverdue(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.tenants.tenant.Status = tenants.StatusSuspended
	f.repo.hasOverdueFn = func(ctx context.Context, scope tenant.Scope) (bool, error) {
		return false, nil
	}

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.NoError(t, err)
	require.Equal(t, 1, f.tenants.reactivateCalls)
}

func TestVerifyKeepsSuspensionWhileInvoicesRemainOverdue(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.tenants.tenant.Status = tenants.StatusSuspended
	f.repo.hasOverdueFn = func(ctx context.Context, scope tenant.Scope) (bool, error) {
		return true, nil
	}

	_, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.NoError(t, err)
	require.Zero(t, f.tenants.reactivateCalls)
}

func TestVerifyNotifierFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.notifier.err = errors.New("smtp down")

	verified, err := f.svc.Verify(scopedContext(t), "admin-1", "FP-TEST-0001")
	require.NoError(t, err)
	require.True(t, verified.Verified)
	require.Equal(t, 1, f.notifier.calls)
}

func TestVerifyFromWebhookResolvesTenantScope(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.repo.tenantForReferenceFn = func(ctx context.Context, reference string) (string, error) {
		require.Equal(t, "FP-TEST-0001", reference)
		return testTenantID, nil
	}

	var finalizedActor string
	baseFinalize := f.repo.finalizeFn
	f.repo.finalizeFn = func(ctx context.Context, scope tenant.Scope, paymentID, invoiceID uuid.UUID, gatewayReference string, entry audit.Entry) (Payment, error) {
		finalizedActor = entry.ActorID
		return baseFinalize(ctx, scope, paymentID, invoiceID, gatewayReference, entry)
	}

	verified, err := f.svc.VerifyFromWebhook(context.Background(), "FP-TEST-0001")
	require.NoError(t, err)
	require.True(t, verified.Verified)
	require.Equal(t, "gateway-webhook", finalizedActor)
}

func TestInitiateRecordsPendingPayment(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.repo.createPaymentFn = func(ctx context.Context, scope tenant.Scope, p Payment) (Payment, error) {
		require.Equal(t, testTenantID, p.TenantID)
		require.Equal(t, f.invoice.ID, p.InvoiceID)
		require.Equal(t, f.invoice.AmountCents, p.AmountCents)
		require.Equal(t, PaymentPending, p.Status)
		require.NotEmpty(t, p.Reference)
		return p, nil
	}

	created, err := f.svc.Initiate(scopedContext(t), "admin-1", f.invoice.ID, "https://gateway.example/poll/new")
	require.NoError(t, err)
	require.False(t, created.Verified)

	initiated := f.recorder.ByAction("payment.initiated")
	require.Len(t, initiated, 1)
}

func TestInitiateRejectsPaidInvoice(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.invoice.Status = InvoicePaid

	_, err := f.svc.Initiate(scopedContext(t), "admin-1", f.invoice.ID, "")
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestCreateInvoiceRejectsNegativeAmount(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	_, err := f.svc.CreateInvoice(scopedContext(t), "admin-1", -100, InvoiceSubscription, nil, nil)
	require.Error(t, err)
}

func TestCreateInvoiceStampsTenantAndAudits(t *testing.T) {
	t.Parallel()

	f := newVerifyFixture(t)
	f.repo.createInvoiceFn = func(ctx context.Context, scope tenant.Scope, inv Invoice) (Invoice, error) {
		require.Equal(t, testTenantID, inv.TenantID)
		require.Equal(t, InvoicePending, inv.Status)
		return inv, nil
	}

	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	created, err := f.svc.CreateInvoice(scopedContext(t), "admin-1", 2500, InvoiceSubscription, nil, &due)
	require.NoError(t, err)
	require.Equal(t, int64(2500), created.AmountCents)

	require.Len(t, f.recorder.ByAction("invoice.created"), 1)
}
