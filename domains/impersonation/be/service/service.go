package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	users "github.com/mutare-labs/fleetpay-saas/domains/users/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/ratelimit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

// Domain sentinel errors. Start applies its checks in a fixed order: rate
// limit, concurrent session cap, justification, then target membership. The
// first failing check wins, so callers get a stable error for a given state.
var (
	ErrRateLimited           = errors.New("impersonation rate limit exceeded")
	ErrTooManySessions       = errors.New("too many concurrent impersonation sessions")
	ErrJustificationTooShort = errors.New("justification too short")
	ErrTargetNotInTenant     = errors.New("target user does not belong to the tenant")
	ErrNoSession             = errors.New("impersonation session not found")
	ErrNoScope               = errors.New("tenant scope missing from context")
)

// Session is one active impersonation. Expiry is absolute and stored on the
// session itself: liveness is always derived from ExpiresAt, never from a
// timer having fired, so a restarted process cannot resurrect a dead session.
type Session struct {
	ID            uuid.UUID
	ActorID       string
	TargetUserID  uuid.UUID
	TenantID      string
	Justification string
	StartedAt     time.Time
	ExpiresAt     time.Time
}

// Active reports whether the session is still live at the given instant.
func (s Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// UserDirectory resolves the impersonation target inside the caller's tenant.
// The lookup is tenant scoped, so a user from another tenant simply does not
// resolve.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (users.User, error)
}

// Config wires the service dependencies and knobs.
type Config struct {
	Users            UserDirectory
	Limiter          *ratelimit.Limiter
	Audit            audit.Emitter
	Logger           *zap.Logger
	SessionTTL       time.Duration
	MaxConcurrent    int
	MinJustification int
}

// Service manages super-admin impersonation sessions. Sessions live in
// process memory; impersonation is a platform-operator control plane feature
// that runs on a single instance.
type Service struct {
	users            UserDirectory
	limiter          *ratelimit.Limiter
	audit            audit.Emitter
	logger           *zap.Logger
	ttl              time.Duration
	maxConcurrent    int
	minJustification int
	now              func() time.Time

	mu       sync.Mutex
	sessions map[string][]Session
}

// New constructs the impersonation Service.
func New(cfg Config) *Service {
	if cfg.Users == nil {
		panic("user directory is required")
	}
	if cfg.Limiter == nil {
		panic("rate limiter is required")
	}
	if cfg.Audit == nil {
		panic("audit emitter is required")
	}
	if cfg.Logger == nil {
		panic("logger is required")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	minJustification := cfg.MinJustification
	if minJustification <= 0 {
		minJustification = 10
	}
	return &Service{
		users:            cfg.Users,
		limiter:          cfg.Limiter,
		audit:            cfg.Audit,
		logger:           cfg.Logger,
		ttl:              ttl,
		maxConcurrent:    maxConcurrent,
		minJustification: minJustification,
		now:              time.Now,
		sessions:         make(map[string][]Session),
	}
}

// Start opens an impersonation session against a user in the scoped tenant.
func (s *Service) Start(ctx context.Context, actorID string, targetUserID uuid.UUID, justification string) (Session, error) {
	scope, ok := tenant.FromContext(ctx)
	if !ok {
		return Session{}, ErrNoScope
	}

	// Failing closed here: if the limiter store is down we refuse to start
	// a session rather than losing the budget.
	decision, err := s.limiter.Allow(ctx, "impersonate:"+actorID)
	if err != nil {
		return Session{}, err
	}
	if !decision.Allowed {
		s.logger.Warn("impersonation attempt rate limited",
			zap.String("actor_id", actorID),
			zap.String("tenant_id", scope.TenantID),
		)
		return Session{}, ErrRateLimited
	}

	s.mu.Lock()
	liveCount := len(s.activeFor(actorID))
	s.mu.Unlock()
	if liveCount >= s.maxConcurrent {
		s.logger.Warn("impersonation attempt rejected: session cap reached",
			zap.String("actor_id", actorID),
			zap.String("tenant_id", scope.TenantID),
			zap.Int("live_sessions", liveCount),
		)
		return Session{}, ErrTooManySessions
	}

	justification = strings.TrimSpace(justification)
	if len(justification) < s.minJustification {
		return Session{}, ErrJustificationTooShort
	}

	target, err := s.users.Get(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return Session{}, ErrTargetNotInTenant
		}
		return Session{}, err
	}

	now := s.now().UTC()
	session := Session{
		ID:            uuid.New(),
		ActorID:       actorID,
		TargetUserID:  target.ID,
		TenantID:      scope.TenantID,
		Justification: justification,
		StartedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}

	if err := s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "impersonation.started",
		EntityType: "user",
		EntityID:   target.ID.String(),
		TenantID:   scope.TenantID,
		NewValues: map[string]any{
			"sessionId":     session.ID.String(),
			"targetEmail":   target.Email,
			"justification": justification,
			"expiresAt":     session.ExpiresAt.Format(time.RFC3339),
		},
	}); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	s.sessions[actorID] = append(s.activeFor(actorID), session)
	s.mu.Unlock()

	s.logger.Warn("impersonation session started",
		zap.String("actor_id", actorID),
		zap.String("target_user_id", target.ID.String()),
		zap.String("tenant_id", scope.TenantID),
		zap.Time("expires_at", session.ExpiresAt),
	)

	return session, nil
}

// Stop ends one of the actor's sessions.
func (s *Service) Stop(ctx context.Context, actorID string, sessionID uuid.UUID) error {
	s.mu.Lock()
	var (
		stopped Session
		found   bool
		kept    []Session
	)
	for _, session := range s.activeFor(actorID) {
		if session.ID == sessionID {
			stopped = session
			found = true
			continue
		}
		kept = append(kept, session)
	}
	if found {
		if len(kept) == 0 {
			delete(s.sessions, actorID)
		} else {
			s.sessions[actorID] = kept
		}
	}
	s.mu.Unlock()

	if !found {
		return ErrNoSession
	}

	return s.audit.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "impersonation.ended",
		EntityType: "user",
		EntityID:   stopped.TargetUserID.String(),
		TenantID:   stopped.TenantID,
		OldValues:  map[string]any{"sessionId": stopped.ID.String()},
	})
}

// Active returns the actor's live sessions.
func (s *Service) Active(actorID string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := s.activeFor(actorID)
	out := make([]Session, len(sessions))
	copy(out, sessions)
	return out
}

// activeFor prunes expired sessions and returns the survivors, dropping the
// actor's map entry entirely when none remain. Callers must hold mu.
func (s *Service) activeFor(actorID string) []Session {
	now := s.now()
	var live []Session
	for _, session := range s.sessions[actorID] {
		if session.Active(now) {
			live = append(live, session)
		}
	}
	if len(live) == 0 {
		delete(s.sessions, actorID)
	} else {
		s.sessions[actorID] = live
	}
	return live
}
