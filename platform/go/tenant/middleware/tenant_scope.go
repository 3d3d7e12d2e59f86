package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// Resolver is the minimal lookup needed to confirm a tenant exists before a
// scope is attached. Implemented by the tenant registry service.
type Resolver interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
}

// Config controls middleware behavior.
type Config struct {
	// Optional small in-memory TTL cache to avoid a registry hit per request;
	// zero disables caching.
	CacheTTL time.Duration
}

// WithTenantScope reads the tenant claim from the authenticated credentials,
// validates the identifier, confirms the tenant exists, and attaches a
// tenant.Scope to the request context. Requests without a valid tenant claim
// never reach a handler, so downstream code can assume a scope is present.
func WithTenantScope(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}

	var cache *tenantCache
	if cfg.CacheTTL > 0 {
		cache = newTenantCache(cfg.CacheTTL)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil || creds.TenantID == nil || *creds.TenantID == "" {
				problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "tenant claim required"))
				return
			}

			tenantID := *creds.TenantID
			if !tenant.IsValidID(tenantID) {
				problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "invalid tenant id"))
				return
			}

			if !cache.hit(tenantID) {
				exists, err := resolver.TenantExists(r.Context(), tenantID)
				if err != nil {
					problem.Write(w, problem.Internal())
					return
				}
				if !exists {
					problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "tenant not found"))
					return
				}
				cache.put(tenantID)
			}

			scope, err := tenant.NewScope(tenantID, creds.Role.Can(platformauth.CapCrossTenant))
			if err != nil {
				problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "invalid tenant id"))
				return
			}

			ctx := tenant.WithScope(r.Context(), scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type tenantCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

func newTenantCache(ttl time.Duration) *tenantCache {
	return &tenantCache{ttl: ttl, items: make(map[string]time.Time)}
}

func (c *tenantCache) hit(id string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt, ok := c.items[id]
	if !ok || time.Now().After(expiresAt) {
		delete(c.items, id)
		return false
	}
	return true
}

func (c *tenantCache) put(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = time.Now().Add(c.ttl)
}
