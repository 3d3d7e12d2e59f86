package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

type mockRepository struct {
	createDriverFn  func(ctx context.Context, scope tenant.Scope, d Driver) (Driver, error)
	getDriverFn     func(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Driver, error)
	listDriversFn   func(ctx context.Context, scope tenant.Scope) ([]Driver, error)
	createVehicleFn func(ctx context.Context, scope tenant.Scope, v Vehicle) (Vehicle, error)
	getVehicleFn    func(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Vehicle, error)
	listVehiclesFn  func(ctx context.Context, scope tenant.Scope) ([]Vehicle, error)
	updateVehicleFn func(ctx context.Context, scope tenant.Scope, v Vehicle) (Vehicle, error)
}

func (m *mockRepository) CreateDriver(ctx context.Context, scope tenant.Scope, d Driver) (Driver, error) {
	if m.createDriverFn == nil {
		panic("createDriverFn not configured")
	}
	return m.createDriverFn(ctx, scope, d)
}

func (m *mockRepository) GetDriver(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Driver, error) {
	if m.getDriverFn == nil {
		panic("getDriverFn not configured")
	}
	return m.getDriverFn(ctx, scope, id)
}

func (m *mockRepository) ListDrivers(ctx context.Context, scope tenant.Scope) ([]Driver, error) {
	if m.listDriversFn == nil {
		panic("listDriversFn not configured")
	}
	return m.listDriversFn(ctx, scope)
}

func (m *mockRepository) CreateVehicle(ctx context.Context, scope tenant.Scope, v Vehicle) (Vehicle, error) {
	if m.createVehicleFn == nil {
		panic("createVehicleFn not configured")
	}
	return m.createVehicleFn(ctx, scope, v)
}

func (m *mockRepository) GetVehicle(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Vehicle, error) {
	if m.getVehicleFn == nil {
		panic("getVehicleFn not configured")
	}
	return m.getVehicleFn(ctx, scope, id)
}

func (m *mockRepository) ListVehicles(ctx context.Context, scope tenant.Scope) ([]Vehicle, error) {
	if m.listVehiclesFn == nil {
		panic("listVehiclesFn not configured")
	}
	return m.listVehiclesFn(ctx, scope)
}

func (m *mockRepository) UpdateVehicle(ctx context.Context, scope tenant.Scope, v Vehicle) (Vehicle, error) {
	if m.updateVehicleFn == nil {
		panic("updateVehicleFn not configured")
	}
	return m.updateVehicleFn(ctx, scope, v)
}

func scopedContext(t *testing.T) (context.Context, tenant.Scope) {
	t.Helper()
	scope, err := tenant.NewScope(tenant.NewID(), false)
	require.NoError(t, err)
	return tenant.WithScope(context.Background(), scope), scope
}

func TestCreateDriverStampsTenant(t *testing.T) {
	t.Parallel()

	ctx, scope := scopedContext(t)
	repo := &mockRepository{
		createDriverFn: func(ctx context.Context, s tenant.Scope, d Driver) (Driver, error) {
			require.Equal(t, scope, s)
			return d, nil
		},
	}
	svc := New(repo, audit.NewRecorder())

	created, err := svc.CreateDriver(ctx, "manager-1", CreateDriverInput{FullName: "  Tendai Moyo  ", Phone: "+263771234567"})
	require.NoError(t, err)
	require.Equal(t, "Tendai Moyo", created.FullName)
	require.Equal(t, scope.TenantID, created.TenantID)
	require.Zero(t, created.DebtBalanceCents)
}

func TestCreateDriverRequiresScope(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{}, audit.NewRecorder())

	_, err := svc.CreateDriver(context.Background(), "manager-1", CreateDriverInput{FullName: "Tendai Moyo"})
	require.ErrorIs(t, err, ErrNoScope)
}

func TestCreateDriverValidation(t *testing.T) {
	t.Parallel()

	ctx, _ := scopedContext(t)
	svc := New(&mockRepository{}, audit.NewRecorder())

	_, err := svc.CreateDriver(ctx, "manager-1", CreateDriverInput{FullName: "   "})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "fullName")
}

func TestCreateVehicleValidatesConfigAgainstModel(t *testing.T) {
	t.Parallel()

	ctx, _ := scopedContext(t)
	repo := &mockRepository{
		createVehicleFn: func(ctx context.Context, s tenant.Scope, v Vehicle) (Vehicle, error) {
			return v, nil
		},
	}
	recorder := audit.NewRecorder()
	svc := New(repo, recorder)

	created, err := svc.CreateVehicle(ctx, "manager-1", CreateVehicleInput{
		Registration:  " abz 1234 ",
		PaymentModel:  ModelDriverRemits,
		PaymentConfig: json.RawMessage(`{"targetAmount": 50, "frequency": "DAILY"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "ABZ 1234", created.Registration)
	require.Equal(t, int64(5000), created.Config.AmountCents)
	require.Len(t, recorder.ByAction("vehicle.created"), 1)

	_, err = svc.CreateVehicle(ctx, "manager-1", CreateVehicleInput{
		Registration:  "ABZ 5678",
		PaymentModel:  ModelDriverRemits,
		PaymentConfig: json.RawMessage(`{"frequency": "DAILY"}`),
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestUpdateVehicleModelChangeRequiresNewConfig(t *testing.T) {
	t.Parallel()

	ctx, scope := scopedContext(t)
	existing := Vehicle{
		ID:           uuid.New(),
		TenantID:     scope.TenantID,
		Registration: "ABZ 1234",
		PaymentModel: ModelOwnerPays,
		RawConfig:    json.RawMessage(`{}`),
	}
	repo := &mockRepository{
		getVehicleFn: func(ctx context.Context, s tenant.Scope, id uuid.UUID) (Vehicle, error) {
			return existing, nil
		},
		updateVehicleFn: func(ctx context.Context, s tenant.Scope, v Vehicle) (Vehicle, error) {
			return v, nil
		},
	}
	svc := New(repo, audit.NewRecorder())

	model := ModelDriverRemits
	_, err := svc.UpdateVehicle(ctx, "manager-1", existing.ID, UpdateVehicleInput{PaymentModel: &model})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	updated, err := svc.UpdateVehicle(ctx, "manager-1", existing.ID, UpdateVehicleInput{
		PaymentModel:  &model,
		PaymentConfig: json.RawMessage(`{"targetAmount": 120, "frequency": "WEEKLY"}`),
	})
	require.NoError(t, err)
	require.Equal(t, ModelDriverRemits, updated.PaymentModel)
	require.Equal(t, int64(12000), updated.Config.AmountCents)
}

func TestUpdateVehicleKeepsConfigWhenModelUnchanged(t *testing.T) {
	t.Parallel()

	ctx, scope := scopedContext(t)
	existing := Vehicle{
		ID:           uuid.New(),
		TenantID:     scope.TenantID,
		Registration: "ABZ 1234",
		PaymentModel: ModelDriverRemits,
		RawConfig:    json.RawMessage(`{"targetAmount": 50, "frequency": "DAILY"}`),
	}
	repo := &mockRepository{
		getVehicleFn: func(ctx context.Context, s tenant.Scope, id uuid.UUID) (Vehicle, error) {
			return existing, nil
		},
		updateVehicleFn: func(ctx context.Context, s tenant.Scope, v Vehicle) (Vehicle, error) {
			return v, nil
		},
	}
	svc := New(repo, audit.NewRecorder())

	updated, err := svc.UpdateVehicle(ctx, "manager-1", existing.ID, UpdateVehicleInput{})
	require.NoError(t, err)
	require.Equal(t, int64(5000), updated.Config.AmountCents)
}
