package service

import (
	"context"
	"errors"
	"strings"
	"time"

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
	ErrNotFound      = errors.New("tenant not found")
	ErrConflict      = errors.New("tenant conflict")
	ErrNotSuspended  = errors.New("tenant is not suspended")
	ErrAlreadyEnded  = errors.New("tenant subscription is canceled")
	ErrUnknownStatus = errors.New("unknown tenant status")
	ErrUnknownPlan   = errors.New("unknown plan tier")
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCanceled  Status = "CANCELED"
)

// ParseStatus converts a stored string into a Status, rejecting unknowns.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusSuspended, StatusCanceled:
		return Status(s), nil
	default:
		return "", ErrUnknownStatus
	}
}

// PlanTier is the subscription tier a tenant is billed on.
type PlanTier string

const (
	PlanStarter    PlanTier = "STARTER"
	PlanGrowth     PlanTier = "GROWTH"
	PlanEnterprise PlanTier = "ENTERPRISE"
)

// ParsePlanTier converts a stored string into a PlanTier, rejecting unknowns.
func ParsePlanTier(s string) (PlanTier, error) {
	switch PlanTier(s) {
	case PlanStarter, PlanGrowth, PlanEnterprise:
		return PlanTier(s), nil
	default:
		return "", ErrUnknownPlan
	}
}

// Tenant is a registry entry for one fleet operator.
type Tenant struct {
	ID                string
	Name              string
	PlanTier          PlanTier
	Status            Status
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	SuspendedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateInput represents the payload required to register a tenant.
type CreateInput struct {
	Name     string
	PlanTier PlanTier
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	Status   *Status
	Page     int
	PageSize int
}

// ListResult wraps a page of tenants with pagination metadata.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts registry persistence. The registry lives in platform
// tables, so these calls are not tenant-scoped.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Update(ctx context.Context, t Tenant) (Tenant, error)
}

// Service provides tenant registry operations. Every lifecycle transition is
// audited with the actor that requested it.
type Service struct {
	repo  Repository
	audit audit.Emitter
	now   func() time.Time
}

// New constructs a Service with required dependencies.
func New(repo Repository, emitter audit.Emitter) *Service {
	if repo == nil {
		panic("tenants repository is required")
	}
	if emitter == nil {
		panic("audit emitter is required")
	}
	return &Service{repo: repo, audit: emitter, now: time.Now}
}

// Create registers a new tenant with a fresh identifier and an ACTIVE status.
func (s *Service) Create(ctx context.Context, actorID string, input CreateInput) (Tenant, error) {
	fieldErrors := FieldErrors{}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		fieldErrors.add("name", "name is required")
	}

	plan := input.PlanTier
	if plan == "" {
		plan = PlanStarter
	} else if _, err := ParsePlanTier(string(plan)); err != nil {
		fieldErrors.add("planTier", "unknown plan tier")
	}

	if len(fieldErrors) > 0 {
		return Tenant{}, &ValidationError{Fields: fieldErrors}
	}

	now := s.now().UTC()
	t := Tenant{
		ID:                tenant.NewID(),
		Name:              name,
		PlanTier:          plan,
		Status:            StatusActive,
		SubscriptionStart: &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := s.repo.Create(ctx, t)
	if err != nil {
		return Tenant{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "tenant.created",
		EntityType: "tenant",
		EntityID:   created.ID,
		TenantID:   created.ID,
		NewValues:  map[string]any{"name": created.Name, "planTier": string(created.PlanTier)},
	}); err != nil {
		return Tenant{}, err
	}

	return created, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	if !tenant.IsValidID(id) {
		return Tenant{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List tenants with optional status filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}
	return s.repo.List(ctx, opts)
}

// Suspend moves an ACTIVE tenant to SUSPENDED and stamps the suspension time.
// Suspending an already suspended tenant is a no-op.
func (s *Service) Suspend(ctx context.Context, actorID, id string) (Tenant, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if current.Status == StatusSuspended {
		return current, nil
	}
	if current.Status == StatusCanceled {
		return Tenant{}, ErrAlreadyEnded
	}

	now := s.now().UTC()
	next := current
	next.Status = StatusSuspended
	next.SuspendedAt = &now
	next.UpdatedAt = now

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Tenant{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "tenant.suspended",
		EntityType: "tenant",
		EntityID:   id,
		TenantID:   id,
		OldValues:  map[string]any{"status": string(current.Status)},
		NewValues:  map[string]any{"status": string(StatusSuspended)},
	}); err != nil {
		return Tenant{}, err
	}

	return updated, nil
}

// Reactivate moves a SUSPENDED tenant back to ACTIVE and clears the
// suspension stamp.
func (s *Service) Reactivate(ctx context.Context, actorID, id string) (Tenant, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if current.Status != StatusSuspended {
		return Tenant{}, ErrNotSuspended
	}

	now := s.now().UTC()
	next := current
	next.Status = StatusActive
	next.SuspendedAt = nil
	next.UpdatedAt = now

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Tenant{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "tenant.reactivated",
		EntityType: "tenant",
		EntityID:   id,
		TenantID:   id,
		OldValues:  map[string]any{"status": string(StatusSuspended)},
		NewValues:  map[string]any{"status": string(StatusActive)},
	}); err != nil {
		return Tenant{}, err
	}

	return updated, nil
}

// ChangePlan switches a tenant to a different plan tier. The old and new
// tiers are both audited so billing disputes can be traced.
func (s *Service) ChangePlan(ctx context.Context, actorID, id string, plan PlanTier) (Tenant, error) {
	if _, err := ParsePlanTier(string(plan)); err != nil {
		return Tenant{}, newValidationError(map[string]string{"planTier": "unknown plan tier"})
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if current.Status == StatusCanceled {
		return Tenant{}, ErrAlreadyEnded
	}
	if current.PlanTier == plan {
		return current, nil
	}

	now := s.now().UTC()
	next := current
	next.PlanTier = plan
	next.UpdatedAt = now

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Tenant{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "tenant.plan_changed",
		EntityType: "tenant",
		EntityID:   id,
		TenantID:   id,
		OldValues:  map[string]any{"planTier": string(current.PlanTier)},
		NewValues:  map[string]any{"planTier": string(plan)},
	}); err != nil {
		return Tenant{}, err
	}

	return updated, nil
}

// Cancel ends a tenant's subscription permanently.
func (s *Service) Cancel(ctx context.Context, actorID, id string) (Tenant, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if current.Status == StatusCanceled {
		return current, nil
	}

	now := s.now().UTC()
	next := current
	next.Status = StatusCanceled
	next.SubscriptionEnd = &now
	next.UpdatedAt = now

	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Tenant{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "tenant.canceled",
		EntityType: "tenant",
		EntityID:   id,
		TenantID:   id,
		OldValues:  map[string]any{"status": string(current.Status)},
		NewValues:  map[string]any{"status": string(StatusCanceled)},
	}); err != nil {
		return Tenant{}, err
	}

	return updated, nil
}

// TenantExists is the lookup the tenant middleware uses before attaching a
// scope. Canceled tenants no longer resolve.
func (s *Service) TenantExists(ctx context.Context, id string) (bool, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return t.Status != StatusCanceled, nil
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
