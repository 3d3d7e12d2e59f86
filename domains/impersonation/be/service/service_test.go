package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	users "github.com/mutare-labs/fleetpay-saas/domains/users/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/ratelimit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/tenant"
)

const testTenantID = "cabcdefghijklmnopqrstuvwx"

type stubUsers struct {
	user users.User
	err  error
}

func (s *stubUsers) Get(ctx context.Context, id uuid.UUID) (users.User, error) {
	if s.err != nil {
		return users.User{}, s.err
	}
	return s.user, nil
}

func scopedContext(t *testing.T) context.Context {
	t.Helper()
	scope, err := tenant.NewScope(testTenantID, true)
	require.NoError(t, err)
	return tenant.WithScope(context.Background(), scope)
}

type fixture struct {
	svc      *Service
	users    *stubUsers
	recorder *audit.Recorder
	target   users.User
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	target := users.User{
		ID:       uuid.New(),
		TenantID: testTenantID,
		Email:    "driver@example.com",
		Role:     platformauth.RoleDriver,
	}
	f := &fixture{
		users:    &stubUsers{user: target},
		recorder: audit.NewRecorder(),
		target:   target,
	}
	f.svc = New(Config{
		Users:         f.users,
		Limiter:       ratelimit.NewLimiter(ratelimit.NewMemoryStore(), limit, 15*time.Minute),
		Audit:         f.recorder,
		Logger:        zap.NewNop(),
		SessionTTL:    time.Hour,
		MaxConcurrent: 3,
	})
	return f
}

const validJustification = "customer escalation ticket 4821"

func TestStartOpensAuditedSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	session, err := f.svc.Start(scopedContext(t), "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)

	require.Equal(t, f.target.ID, session.TargetUserID)
	require.Equal(t, testTenantID, session.TenantID)
	require.True(t, session.Active(time.Now()))
	require.False(t, session.Active(session.ExpiresAt))

	entries := f.recorder.ByAction("impersonation.started")
	require.Len(t, entries, 1)
	require.Equal(t, "sa-1", entries[0].ActorID)
	require.Equal(t, validJustification, entries[0].NewValues["justification"])
}

func TestStartRequiresScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	_, err := f.svc.Start(context.Background(), "sa-1", f.target.ID, validJustification)
	require.ErrorIs(t, err, ErrNoScope)
}

func TestStartEnforcesRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := scopedContext(t)

	// The budget counts attempts, not successes: even rejected starts
	// consume it.
	for i := 0; i < 5; i++ {
		_, err := f.svc.Start(ctx, "sa-1", f.target.ID, "short")
		require.ErrorIs(t, err, ErrJustificationTooShort)
	}

	_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestStartRateLimitIsPerActor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := scopedContext(t)

	_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = f.svc.Start(ctx, "sa-2", f.target.ID, validJustification)
	require.NoError(t, err)
}

func TestStartCapsConcurrentSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := scopedContext(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
		require.NoError(t, err)
	}

	_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.ErrorIs(t, err, ErrTooManySessions)
}

func TestStartRejectsShortJustification(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	_, err := f.svc.Start(scopedContext(t), "sa-1", f.target.ID, "   ticket   ")
	require.ErrorIs(t, err, ErrJustificationTooShort)
}

func TestStartHonorsConfiguredMinimumJustification(t *testing.T) {
	t.Parallel()

	target := users.User{ID: uuid.New(), TenantID: testTenantID, Email: "driver@example.com", Role: platformauth.RoleDriver}
	svc := New(Config{
		Users:            &stubUsers{user: target},
		Limiter:          ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 100, 15*time.Minute),
		Audit:            audit.NewRecorder(),
		Logger:           zap.NewNop(),
		MinJustification: 40,
	})
	ctx := scopedContext(t)

	// 31 characters: enough for the default minimum, short of 40.
	_, err := svc.Start(ctx, "sa-1", target.ID, validJustification)
	require.ErrorIs(t, err, ErrJustificationTooShort)

	_, err = svc.Start(ctx, "sa-1", target.ID, validJustification+", approved by on-call lead")
	require.NoError(t, err)
}

func TestStopLastSessionCleansActorEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := scopedContext(t)

	session, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)
	require.NoError(t, f.svc.Stop(ctx, "sa-1", session.ID))

	f.svc.mu.Lock()
	_, present := f.svc.sessions["sa-1"]
	f.svc.mu.Unlock()
	require.False(t, present, "empty session set must not linger in the registry")
}

func TestPruningLastSessionCleansActorEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := scopedContext(t)

	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return clock }

	_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	require.Empty(t, f.svc.Active("sa-1"))

	f.svc.mu.Lock()
	_, present := f.svc.sessions["sa-1"]
	f.svc.mu.Unlock()
	require.False(t, present)
}

func TestStartRejectsTargetOutsideTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.users.err = users.ErrNotFound

	_, err := f.svc.Start(scopedContext(t), "sa-1", uuid.New(), validJustification)
	require.ErrorIs(t, err, ErrTargetNotInTenant)
}

func TestExpiredSessionsFreeTheCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := scopedContext(t)

	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
		require.NoError(t, err)
	}
	_, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.ErrorIs(t, err, ErrTooManySessions)

	// Past the TTL every session has lapsed; liveness comes from the stored
	// expiry, not from a timer.
	clock = clock.Add(2 * time.Hour)
	require.Empty(t, f.svc.Active("sa-1"))

	_, err = f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)
}

func TestStopEndsOneSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := scopedContext(t)

	first, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)
	second, err := f.svc.Start(ctx, "sa-1", f.target.ID, validJustification)
	require.NoError(t, err)

	require.NoError(t, f.svc.Stop(ctx, "sa-1", first.ID))

	live := f.svc.Active("sa-1")
	require.Len(t, live, 1)
	require.Equal(t, second.ID, live[0].ID)

	require.Len(t, f.recorder.ByAction("impersonation.ended"), 1)
}

func TestStopUnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	err := f.svc.Stop(scopedContext(t), "sa-1", uuid.New())
	require.ErrorIs(t, err, ErrNoSession)
}
