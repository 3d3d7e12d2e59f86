package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeRoundTripsThroughContext(t *testing.T) {
	t.Parallel()

	id := NewID()
	scope, err := NewScope(id, false)
	require.NoError(t, err)

	ctx := WithScope(context.Background(), scope)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, scope, got)
	require.Equal(t, id, IDFromContext(ctx))
}

func TestIDFromContextWithoutScope(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", IDFromContext(context.Background()))

	_, ok := FromContext(context.Background())
	require.False(t, ok)
}
