package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrDriverNotFound      = errors.New("driver not found")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrVehicleConflict     = errors.New("vehicle registration already exists")
	ErrUnknownPaymentModel = errors.New("unknown payment model")
	ErrUnknownFrequency    = errors.New("unknown frequency")
	ErrNoScope             = errors.New("tenant scope missing from context")
)

// Driver is a fleet driver. The debt balance is a running ledger updated only
// by remittance status transitions, never written directly here.
type Driver struct {
	ID               uuid.UUID
	TenantID         string
	UserID           *uuid.UUID
	FullName         string
	Phone            string
	DebtBalanceCents int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Vehicle is a fleet vehicle with its payment model and validated config.
type Vehicle struct {
	ID            uuid.UUID
	TenantID      string
	Registration  string
	PaymentModel  PaymentModel
	RawConfig     json.RawMessage
	Config        PaymentConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateDriverInput is the payload to register a driver.
type CreateDriverInput struct {
	FullName string
	Phone    string
	UserID   *uuid.UUID
}

// CreateVehicleInput is the payload to register a vehicle.
type CreateVehicleInput struct {
	Registration  string
	PaymentModel  PaymentModel
	PaymentConfig json.RawMessage
}

// UpdateVehicleInput carries mutable vehicle fields. A payment model change
// must arrive together with a config matching the new model.
type UpdateVehicleInput struct {
	PaymentModel  *PaymentModel
	PaymentConfig json.RawMessage
}

// Repository abstracts fleet persistence. Every method runs inside the tenant
// guard with the caller's scope.
type Repository interface {
	CreateDriver(ctx context.Context, scope tenant.Scope, d Driver) (Driver, error)
	GetDriver(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Driver, error)
	ListDrivers(ctx context.Context, scope tenant.Scope) ([]Driver, error)
	CreateVehicle(ctx context.Context, scope tenant.Scope, v Vehicle) (Vehicle, error)
	GetVehicle(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Vehicle, error)
	ListVehicles(ctx context.Context, scope tenant.Scope) ([]Vehicle, error)
	UpdateVehicle(ctx context.Context, scope tenant.Scope, v Vehicle) (Vehicle, error)
}

// Service provides fleet registry operations scoped to the caller's tenant.
type Service struct {
	repo  Repository
	audit audit.Emitter
	now   func() time.Time
}

// New constructs a Service with required dependencies.
func New(repo Repository, emitter audit.Emitter) *Service {
	if repo == nil {
		panic("fleet repository is required")
	}
	if emitter == nil {
		panic("audit emitter is required")
	}
	return &Service{repo: repo, audit: emitter, now: time.Now}
}

func scopeFrom(ctx context.Context) (tenant.Scope, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Scope{}, ErrNoScope
	}
	return scope, nil
}

// CreateDriver registers a new driver with a zero debt balance.
func (s *Service) CreateDriver(ctx context.Context, actorID string, input CreateDriverInput) (Driver, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Driver{}, err
	}

	fullName := strings.TrimSpace(input.FullName)
	if fullName == "" {
		return Driver{}, newValidationError(map[string]string{"fullName": "fullName is required"})
	}

	now := s.now().UTC()
	d := Driver{
		ID:        uuid.New(),
		TenantID:  scope.TenantID,
		UserID:    input.UserID,
		FullName:  fullName,
		Phone:     strings.TrimSpace(input.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateDriver(ctx, scope, d)
	if err != nil {
		return Driver{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "driver.created",
		EntityType: "driver",
		EntityID:   created.ID.String(),
		TenantID:   scope.TenantID,
		NewValues:  map[string]any{"fullName": created.FullName},
	}); err != nil {
		return Driver{}, err
	}

	return created, nil
}

// GetDriver returns a driver by id within the caller's tenant.
func (s *Service) GetDriver(ctx context.Context, id uuid.UUID) (Driver, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Driver{}, err
	}
	if id == uuid.Nil {
		return Driver{}, ErrDriverNotFound
	}
	return s.repo.GetDriver(ctx, scope, id)
}

// ListDrivers returns the tenant's drivers.
func (s *Service) ListDrivers(ctx context.Context) ([]Driver, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDrivers(ctx, scope)
}

// CreateVehicle registers a vehicle after validating the payment config
// against the model's schema.
func (s *Service) CreateVehicle(ctx context.Context, actorID string, input CreateVehicleInput) (Vehicle, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Vehicle{}, err
	}

	registration := strings.ToUpper(strings.TrimSpace(input.Registration))
	if registration == "" {
		return Vehicle{}, newValidationError(map[string]string{"registration": "registration is required"})
	}

	if _, err := ParsePaymentModel(string(input.PaymentModel)); err != nil {
		return Vehicle{}, newValidationError(map[string]string{"paymentModel": "unknown payment model"})
	}

	cfg, err := ValidatePaymentConfig(input.PaymentModel, input.PaymentConfig)
	if err != nil {
		return Vehicle{}, err
	}

	raw := input.PaymentConfig
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	now := s.now().UTC()
	v := Vehicle{
		ID:           uuid.New(),
		TenantID:     scope.TenantID,
		Registration: registration,
		PaymentModel: input.PaymentModel,
		RawConfig:    raw,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.repo.CreateVehicle(ctx, scope, v)
	if err != nil {
		return Vehicle{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "vehicle.created",
		EntityType: "vehicle",
		EntityID:   created.ID.String(),
		TenantID:   scope.TenantID,
		NewValues: map[string]any{
			"registration": created.Registration,
			"paymentModel": string(created.PaymentModel),
		},
	}); err != nil {
		return Vehicle{}, err
	}

	return created, nil
}

// GetVehicle returns a vehicle by id within the caller's tenant.
func (s *Service) GetVehicle(ctx context.Context, id uuid.UUID) (Vehicle, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Vehicle{}, err
	}
	if id == uuid.Nil {
		return Vehicle{}, ErrVehicleNotFound
	}
	return s.repo.GetVehicle(ctx, scope, id)
}

// ListVehicles returns the tenant's vehicles.
func (s *Service) ListVehicles(ctx context.Context) ([]Vehicle, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListVehicles(ctx, scope)
}

// UpdateVehicle changes the payment model and/or config. The config is always
// revalidated against the effective model so a model switch cannot leave a
// stale config behind.
func (s *Service) UpdateVehicle(ctx context.Context, actorID string, id uuid.UUID, input UpdateVehicleInput) (Vehicle, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Vehicle{}, err
	}

	current, err := s.repo.GetVehicle(ctx, scope, id)
	if err != nil {
		return Vehicle{}, err
	}

	next := current
	if input.PaymentModel != nil {
		if _, err := ParsePaymentModel(string(*input.PaymentModel)); err != nil {
			return Vehicle{}, newValidationError(map[string]string{"paymentModel": "unknown payment model"})
		}
		next.PaymentModel = *input.PaymentModel
	}

	raw := input.PaymentConfig
	if len(raw) == 0 {
		if input.PaymentModel != nil && *input.PaymentModel != current.PaymentModel {
			return Vehicle{}, newValidationError(map[string]string{"paymentConfig": "paymentConfig is required when changing payment model"})
		}
		raw = current.RawConfig
	}

	cfg, err := ValidatePaymentConfig(next.PaymentModel, raw)
	if err != nil {
		return Vehicle{}, err
	}
	next.RawConfig = raw
	next.Config = cfg
	next.UpdatedAt = s.now().UTC()

	updated, err := s.repo.UpdateVehicle(ctx, scope, next)
	if err != nil {
		return Vehicle{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "vehicle.updated",
		EntityType: "vehicle",
		EntityID:   id.String(),
		TenantID:   scope.TenantID,
		OldValues: map[string]any{
			"paymentModel":  string(current.PaymentModel),
			"paymentConfig": json.RawMessage(current.RawConfig),
		},
		NewValues: map[string]any{
			"paymentModel":  string(updated.PaymentModel),
			"paymentConfig": json.RawMessage(updated.RawConfig),
		},
	}); err != nil {
		return Vehicle{}, err
	}

	return updated, nil
}

func newValidationError(fields map[string]string) error {
	fe := FieldErrors{}
	for key, message := range fields {
		fe.add(key, message)
	}
	return &ValidationError{Fields: fe}
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
