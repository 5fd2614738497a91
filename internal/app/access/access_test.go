package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/domain/storetest"
)

func TestRequireAdmin(t *testing.T) {
	a := New(nil)
	require.NoError(t, a.Bootstrap(context.Background(), "root", ""))

	assert.NoError(t, a.RequireAdmin("root"))
	assert.ErrorIs(t, a.RequireAdmin("bob"), domain.ErrUnauthorized)
	assert.ErrorIs(t, a.RequireAdmin(""), domain.ErrUnauthorized)
}

func TestAddRemove(t *testing.T) {
	st := storetest.New()
	a := New(st)
	ctx := context.Background()
	require.NoError(t, a.Add(ctx, "root"))
	require.NoError(t, a.Add(ctx, "ops"))
	require.NoError(t, a.Add(ctx, "ops"), "re-adding is a no-op")
	assert.Equal(t, []domain.Identity{"ops", "root"}, a.List())
	assert.Len(t, st.Commits(), 2)

	require.NoError(t, a.Remove(ctx, "ops"))
	assert.Equal(t, []domain.Identity{"ops"}, st.Last().AdminsRemoved)
	assert.ErrorIs(t, a.Remove(ctx, "ops"), domain.ErrNotFound)
	assert.ErrorIs(t, a.Remove(ctx, "root"), domain.ErrInvalidState, "last admin stays")
	assert.True(t, a.IsAdmin("root"))
}

func TestAdd_RejectsEscrowAccount(t *testing.T) {
	a := New(nil)
	assert.ErrorIs(t, a.Add(context.Background(), domain.EscrowAccount("e1")), domain.ErrInvalidInput)
}

func TestAdd_StoreFaultLeavesSetUnchanged(t *testing.T) {
	st := storetest.New()
	a := New(st)
	st.FailNext()
	assert.ErrorIs(t, a.Add(context.Background(), "root"), domain.ErrInternal)
	assert.False(t, a.IsAdmin("root"))
}

func TestRestore(t *testing.T) {
	a := New(nil)
	a.Restore(&domain.Snapshot{Admins: []domain.Identity{"x", "y"}})
	assert.True(t, a.IsAdmin("x"))
	assert.Len(t, a.List(), 2)
}

func TestBootstrap_OnlySeedsEmptySet(t *testing.T) {
	st := storetest.New()
	a := New(st)
	ctx := context.Background()
	require.NoError(t, a.Bootstrap(ctx, "root", "ops", "root"))
	assert.Equal(t, []domain.Identity{"ops", "root"}, a.List())
	require.Len(t, st.Commits(), 1)

	require.NoError(t, a.Remove(ctx, "ops"))

	reopened := New(st)
	reopened.Restore(&domain.Snapshot{Admins: a.List()})
	require.NoError(t, reopened.Bootstrap(ctx, "root", "ops"))
	assert.False(t, reopened.IsAdmin("ops"), "removed bootstrap admin must stay removed")
	assert.Len(t, st.Commits(), 2, "no commit when the set is already seeded")
}
