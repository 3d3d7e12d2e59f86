// Package audit is the append-only trail of privileged actions. Entries are
// created, never mutated or deleted; they are the only admissible evidence for
// later security review.
package audit

import (
	"context"
	"net/http"
	"time"
)

// Entry is one immutable audit record. OldValues/NewValues carry enough state
// to reconstruct what changed (debt balance deltas, prior tenant status, …).
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	TenantID   string
	OldValues  map[string]any
	NewValues  map[string]any
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// Emitter records entries. Every mutating privileged operation calls Record
// before reporting success to its caller.
type Emitter interface {
	Record(ctx context.Context, entry Entry) error
}

// ClientMeta is the request metadata stamped onto entries.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type metaKey struct{}

// WithClientMeta stores request metadata on the context so services deep in the
// call stack can stamp it without threading *http.Request around.
func WithClientMeta(ctx context.Context, meta ClientMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext returns the stored client metadata, zero when absent.
func MetaFromContext(ctx context.Context) ClientMeta {
	if meta, ok := ctx.Value(metaKey{}).(ClientMeta); ok {
		return meta
	}
	return ClientMeta{}
}

// ClientMetaMiddleware captures the caller's network identity once per request.
// Expects chi's RealIP middleware to have normalized RemoteAddr already.
func ClientMetaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientMeta(r.Context(), ClientMeta{
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// stamp fills CreatedAt and client metadata when the caller left them empty.
func stamp(ctx context.Context, entry Entry) Entry {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.IPAddress == "" && entry.UserAgent == "" {
		meta := MetaFromContext(ctx)
		entry.IPAddress = meta.IPAddress
		entry.UserAgent = meta.UserAgent
	}
	return entry
}
