package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
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
	ErrNotFound = errors.New("user not found")
	ErrConflict = errors.New("user conflict")
	ErrNoScope  = errors.New("tenant scope missing from context")
)

// User is one account inside a tenant. Role gates what the account may do;
// it is stored alongside the user so membership and privilege are checked in
// the same place.
type User struct {
	ID        uuid.UUID
	TenantID  string
	Email     string
	FullName  string
	Role      platformauth.Role
	CreatedAt time.Time
}

// CreateInput represents the payload required to create a user.
type CreateInput struct {
	Email    string
	FullName string
	Role     platformauth.Role
}

// ListOptions controls filtering.
type ListOptions struct {
	Email *string
	Role  *platformauth.Role
}

// Repository abstracts tenant-scoped user persistence.
type Repository interface {
	Create(ctx context.Context, scope tenant.Scope, u User) (User, error)
	Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (User, error)
	List(ctx context.Context, scope tenant.Scope, opts ListOptions) ([]User, error)
	UpdateRole(ctx context.Context, scope tenant.Scope, id uuid.UUID, role platformauth.Role) (User, error)
	Delete(ctx context.Context, scope tenant.Scope, id uuid.UUID) error
}

// Service implements user account management within a tenant.
type Service struct {
	repo  Repository
	audit audit.Emitter
}

// New constructs a users Service instance.
func New(repo Repository, emitter audit.Emitter) *Service {
	if repo == nil {
		panic("users repository is required")
	}
	if emitter == nil {
		panic("audit emitter is required")
	}
	return &Service{repo: repo, audit: emitter}
}

func scopeFrom(ctx context.Context) (tenant.Scope, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Scope{}, ErrNoScope
	}
	return scope, nil
}

// Create registers a user account in the caller's tenant.
func (s *Service) Create(ctx context.Context, actorID string, input CreateInput) (User, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return User{}, err
	}

	fieldErrors := FieldErrors{}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		fieldErrors.add("email", "email is required")
	} else if !strings.Contains(email, "@") {
		fieldErrors.add("email", "email must contain '@'")
	}

	role := input.Role
	if role == "" {
		role = platformauth.RoleDriver
	} else if _, err := platformauth.ParseRole(string(role)); err != nil {
		fieldErrors.add("role", "unknown role")
	}

	if len(fieldErrors) > 0 {
		return User{}, &ValidationError{Fields: fieldErrors}
	}

	created, err := s.repo.Create(ctx, scope, User{
		ID:       uuid.New(),
		TenantID: scope.TenantID,
		Email:    email,
		FullName: strings.TrimSpace(input.FullName),
		Role:     role,
	})
	if err != nil {
		return User{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "user.created",
		EntityType: "user",
		EntityID:   created.ID.String(),
		TenantID:   scope.TenantID,
		NewValues:  map[string]any{"email": created.Email, "role": string(created.Role)},
	}); err != nil {
		return User{}, err
	}

	return created, nil
}

// Get returns one user from the caller's tenant.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (User, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return User{}, err
	}
	if id == uuid.Nil {
		return User{}, ErrNotFound
	}
	return s.repo.Get(ctx, scope, id)
}

// List returns the tenant's users with optional filters.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]User, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope, opts)
}

// ChangeRole moves a user to a different role. Promotions to SUPER_ADMIN are
// refused here; platform operators are provisioned out of band.
func (s *Service) ChangeRole(ctx context.Context, actorID string, id uuid.UUID, role platformauth.Role) (User, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return User{}, err
	}

	if _, err := platformauth.ParseRole(string(role)); err != nil || role == platformauth.RoleSuperAdmin {
		return User{}, &ValidationError{Fields: FieldErrors{"role": {"role is not assignable"}}}
	}

	current, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return User{}, err
	}
	if current.Role == role {
		return current, nil
	}

	updated, err := s.repo.UpdateRole(ctx, scope, id, role)
	if err != nil {
		return User{}, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "user.role_changed",
		EntityType: "user",
		EntityID:   id.String(),
		TenantID:   scope.TenantID,
		OldValues:  map[string]any{"role": string(current.Role)},
		NewValues:  map[string]any{"role": string(role)},
	}); err != nil {
		return User{}, err
	}

	return updated, nil
}

// Delete removes a user account.
func (s *Service) Delete(ctx context.Context, actorID string, id uuid.UUID) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	current, err := s.repo.Get(ctx, scope, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, scope, id); err != nil {
		return err
	}

	return s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "user.deleted",
		EntityType: "user",
		EntityID:   id.String(),
		TenantID:   scope.TenantID,
		OldValues:  map[string]any{"email": current.Email, "role": string(current.Role)},
	})
}

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}
