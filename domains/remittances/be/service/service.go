package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	fleet "github.com/mutare-labs/fleetpay-saas/domains/fleet/be/service"
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
	ErrNotFound            = errors.New("remittance not found")
	ErrConcurrencyConflict = errors.New("remittance was modified concurrently")
	ErrUnknownStatus       = errors.New("unknown remittance status")
	ErrNoScope             = errors.New("tenant scope missing from context")
)

// Status is the remittance approval state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus converts a stored string into a Status, rejecting unknowns.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(s), nil
	default:
		return "", ErrUnknownStatus
	}
}

// Remittance is one cash hand-in from a driver for a vehicle. Target fields
// are stamped at write time from the period's approved sum.
type Remittance struct {
	ID                uuid.UUID
	TenantID          string
	DriverID          uuid.UUID
	VehicleID         uuid.UUID
	AmountCents       int64
	RemittedAt        time.Time
	Status            Status
	TargetAmountCents *int64
	TargetReached     bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateInput is the payload to record a remittance.
type CreateInput struct {
	DriverID    uuid.UUID
	VehicleID   uuid.UUID
	AmountCents int64
	RemittedAt  time.Time
}

// UpdateInput carries the mutable fields of a pending remittance.
type UpdateInput struct {
	AmountCents *int64
	RemittedAt  *time.Time
}

// ListOptions filters the remittance listing.
type ListOptions struct {
	DriverID  *uuid.UUID
	VehicleID *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
}

// PeriodQuery identifies the approved remittances that count toward a target.
type PeriodQuery struct {
	DriverID  uuid.UUID
	VehicleID uuid.UUID
	Start     time.Time
	End       time.Time
	// ExcludeID leaves one record out of the sum, used when restamping the
	// record under update.
	ExcludeID *uuid.UUID
}

// TargetStamp tells the repository how to derive the stored target fields
// for a remittance inside its own write transaction.
type TargetStamp struct {
	TargetCents int64
	Period      PeriodQuery
}

// Repository abstracts remittance persistence. Every method runs inside the
// tenant guard. Create and Update compute the target fields from stamp in the
// same transaction as the row write, so an approval cannot commit between the
// period sum and the stamp; a nil stamp stores a nil target marked reached.
// Transition additionally applies the ledger delta and the audit row in the
// same transaction.
type Repository interface {
	Create(ctx context.Context, scope tenant.Scope, rem Remittance, stamp *TargetStamp) (Remittance, error)
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Remittance, error)
	List(ctx context.Context, scope tenant.Scope, opts ListOptions) ([]Remittance, error)
	Update(ctx context.Context, scope tenant.Scope, rem Remittance, stamp *TargetStamp) (Remittance, error)
	Transition(ctx context.Context, scope tenant.Scope, id uuid.UUID, from, to Status, entry audit.Entry) (Remittance, error)
	Delete(ctx context.Context, scope tenant.Scope, id uuid.UUID, entry audit.Entry) error
}

// VehicleDirectory is the fleet lookup the target computation needs.
type VehicleDirectory interface {
	GetVehicle(ctx context.Context, id uuid.UUID) (fleet.Vehicle, error)
}

// DriverDirectory confirms the driver exists in the caller's tenant.
type DriverDirectory interface {
	GetDriver(ctx context.Context, id uuid.UUID) (fleet.Driver, error)
}

// Service provides remittance operations: recording, target stamping, and
// the approval ledger.
type Service struct {
	repo     Repository
	vehicles VehicleDirectory
	drivers  DriverDirectory
	audit    audit.Emitter
	now      func() time.Time
}

// New constructs a Service with required dependencies.
func New(repo Repository, vehicles VehicleDirectory, drivers DriverDirectory, emitter audit.Emitter) *Service {
	if repo == nil {
		panic("remittances repository is required")
	}
	if vehicles == nil {
		panic("vehicle directory is required")
	}
	if drivers == nil {
		panic("driver directory is required")
	}
	if emitter == nil {
		panic("audit emitter is required")
	}
	return &Service{repo: repo, vehicles: vehicles, drivers: drivers, audit: emitter, now: time.Now}
}

func scopeFrom(ctx context.Context) (tenant.Scope, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Scope{}, ErrNoScope
	}
	return scope, nil
}

// Create records a remittance as PENDING. The target fields are stamped by
// the repository from the period's approved sum in the write transaction.
func (s *Service) Create(ctx context.Context, actorID string, input CreateInput) (Remittance, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Remittance{}, err
	}

	fieldErrors := FieldErrors{}
	if input.AmountCents <= 0 {
		fieldErrors.add("amount", "amount must be positive")
	}
	if input.DriverID == uuid.Nil {
		fieldErrors.add("driverId", "driverId is required")
	}
	if input.VehicleID == uuid.Nil {
		fieldErrors.add("vehicleId", "vehicleId is required")
	}
	if len(fieldErrors) > 0 {
		return Remittance{}, &ValidationError{Fields: fieldErrors}
	}

	if _, err := s.drivers.GetDriver(ctx, input.DriverID); err != nil {
		return Remittance{}, err
	}
	vehicle, err := s.vehicles.GetVehicle(ctx, input.VehicleID)
	if err != nil {
		return Remittance{}, err
	}

	remittedAt := input.RemittedAt
	if remittedAt.IsZero() {
		remittedAt = s.now()
	}
	remittedAt = remittedAt.UTC()

	stamp := targetStamp(vehicle, input.DriverID, remittedAt, nil)

	now := s.now().UTC()
	rem := Remittance{
		ID:            uuid.New(),
		TenantID:      scope.TenantID,
		DriverID:      input.DriverID,
		VehicleID:     input.VehicleID,
		AmountCents:   input.AmountCents,
		RemittedAt:    remittedAt,
		Status:        StatusPending,
		TargetReached: stamp == nil,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := s.repo.Create(ctx, scope, rem, stamp)
	if err != nil {
		return Remittance{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "remittance.created",
		EntityType: "remittance",
		EntityID:   created.ID.String(),
		TenantID:   scope.TenantID,
		NewValues: map[string]any{
			"amountCents": created.AmountCents,
			"driverId":    created.DriverID.String(),
			"vehicleId":   created.VehicleID.String(),
		},
	}); err != nil {
		return Remittance{}, err
	}

	return created, nil
}

// targetStamp describes the target computation for the repository to run in
// the write transaction. The approved sum excludes the record under update so
// its own previous amount never counts against itself. Nil means the vehicle
// carries no obligation.
func targetStamp(vehicle fleet.Vehicle, driverID uuid.UUID, remittedAt time.Time, excludeID *uuid.UUID) *TargetStamp {
	target := ComputeTarget(vehicle.PaymentModel, vehicle.Config)
	if target == nil {
		return nil
	}

	start, end := PeriodBounds(vehicle.Config.Frequency, remittedAt)
	return &TargetStamp{
		TargetCents: *target,
		Period: PeriodQuery{
			DriverID:  driverID,
			VehicleID: vehicle.ID,
			Start:     start,
			End:       end,
			ExcludeID: excludeID,
		},
	}
}

// Get returns a remittance by id within the caller's tenant.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Remittance, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Remittance{}, err
	}
	if id == uuid.Nil {
		return Remittance{}, ErrNotFound
	}
	return s.repo.Get(ctx, scope, id)
}

// List returns the tenant's remittances with optional filters.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Remittance, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope, opts)
}

// Update edits a pending remittance and restamps its target fields, leaving
// its own previous amount out of the period sum.
func (s *Service) Update(ctx context.Context, actorID string, id uuid.UUID, input UpdateInput) (Remittance, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Remittance{}, err
	}

	current, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return Remittance{}, err
	}
	if current.Status != StatusPending {
		return Remittance{}, ErrConcurrencyConflict
	}

	next := current
	if input.AmountCents != nil {
		if *input.AmountCents <= 0 {
			return Remittance{}, newValidationError(map[string]string{"amount": "amount must be positive"})
		}
		next.AmountCents = *input.AmountCents
	}
	if input.RemittedAt != nil {
		next.RemittedAt = input.RemittedAt.UTC()
	}

	vehicle, err := s.vehicles.GetVehicle(ctx, next.VehicleID)
	if err != nil {
		return Remittance{}, err
	}

	stamp := targetStamp(vehicle, next.DriverID, next.RemittedAt, &id)
	next.TargetAmountCents = nil
	next.TargetReached = stamp == nil
	next.UpdatedAt = s.now().UTC()

	updated, err := s.repo.Update(ctx, scope, next, stamp)
	if err != nil {
		return Remittance{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "remittance.updated",
		EntityType: "remittance",
		EntityID:   id.String(),
		TenantID:   scope.TenantID,
		OldValues:  map[string]any{"amountCents": current.AmountCents},
		NewValues:  map[string]any{"amountCents": updated.AmountCents},
	}); err != nil {
		return Remittance{}, err
	}

	return updated, nil
}

// Approve moves a PENDING remittance to APPROVED and reduces the driver's
// debt by its amount in the same transaction.
func (s *Service) Approve(ctx context.Context, actorID string, id uuid.UUID) (Remittance, error) {
	return s.transition(ctx, actorID, id, StatusPending, StatusApproved, "remittance.approved")
}

// Reject moves a PENDING remittance to REJECTED with no ledger effect.
func (s *Service) Reject(ctx context.Context, actorID string, id uuid.UUID) (Remittance, error) {
	return s.transition(ctx, actorID, id, StatusPending, StatusRejected, "remittance.rejected")
}

// Revoke moves an APPROVED remittance back to REJECTED and restores the
// driver's debt.
func (s *Service) Revoke(ctx context.Context, actorID string, id uuid.UUID) (Remittance, error) {
	return s.transition(ctx, actorID, id, StatusApproved, StatusRejected, "remittance.revoked")
}

// Reapprove moves a REJECTED remittance to APPROVED, applying the debt
// reduction again. Together with Revoke this nets to exactly one approval.
func (s *Service) Reapprove(ctx context.Context, actorID string, id uuid.UUID) (Remittance, error) {
	return s.transition(ctx, actorID, id, StatusRejected, StatusApproved, "remittance.approved")
}

func (s *Service) transition(ctx context.Context, actorID string, id uuid.UUID, from, to Status, action string) (Remittance, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return Remittance{}, err
	}
	if id == uuid.Nil {
		return Remittance{}, ErrNotFound
	}

	entry := audit.Entry{
		ActorID:    actorID,
		Action:     action,
		EntityType: "remittance",
		EntityID:   id.String(),
		TenantID:   scope.TenantID,
		OldValues:  map[string]any{"status": string(from)},
		NewValues:  map[string]any{"status": string(to)},
	}

	return s.repo.Transition(ctx, scope, id, from, to, entry)
}

// Delete removes a remittance. Deleting an APPROVED record restores the
// driver's debt, so the repo handles the ledger inside the same transaction.
func (s *Service) Delete(ctx context.Context, actorID string, id uuid.UUID) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}
	if id == uuid.Nil {
		return ErrNotFound
	}

	entry := audit.Entry{
		ActorID:    actorID,
		Action:     "remittance.deleted",
		EntityType: "remittance",
		EntityID:   id.String(),
		TenantID:   scope.TenantID,
	}

	return s.repo.Delete(ctx, scope, id, entry)
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
