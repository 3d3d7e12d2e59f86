package tenant

import (
	"context"
	"errors"
)

// ErrInvalidID is returned when a string fails tenant identifier validation.
// Callers surface it as a 400 before any storage access happens.
var ErrInvalidID = errors.New("invalid tenant id")

// Scope binds a unit of work to exactly one validated tenant. A Scope with
// SuperAdmin set may bypass tenant filtering; that path is rare and always
// audited by the persistence layer.
type Scope struct {
	TenantID   string
	SuperAdmin bool
}

// NewScope validates id and returns a Scope bound to it. Validation happens
// here, before the scope can reach a storage session.
func NewScope(id string, superAdmin bool) (Scope, error) {
	if !IsValidID(id) {
		return Scope{}, ErrInvalidID
	}
	return Scope{TenantID: id, SuperAdmin: superAdmin}, nil
}

type ctxKey string

const scopeKey ctxKey = "FLEETPAY_TENANT_SCOPE"

// WithScope returns a derived context carrying the tenant Scope.
// It is attached by middleware once the tenant has been resolved from claims.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// FromContext extracts the tenant Scope and a boolean indicating presence.
func FromContext(ctx context.Context) (Scope, bool) {
	v := ctx.Value(scopeKey)
	if v == nil {
		return Scope{}, false
	}
	scope, ok := v.(Scope)
	return scope, ok
}

// IDFromContext returns the bound tenant identifier, or "" when no scope is
// set. Used for audit stamping and test assertions.
func IDFromContext(ctx context.Context) string {
	scope, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return scope.TenantID
}
