package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/kv"
)

func TestTryReserveTotalBudget(t *testing.T) {
	tr := New(kv.NewInMemory(), 5, 0)

	for i := 0; i < 5; i++ {
		require.True(t, tr.TryReserve("s1"), "reservation %d", i)
	}

	require.False(t, tr.TryReserve("s1"))
	require.False(t, tr.TryReserve("s2"))
	require.Equal(t, 5, tr.EnqueuedTotal())
}

func TestTryReservePerSearchBudget(t *testing.T) {
	tr := New(kv.NewInMemory(), 0, 2)

	require.True(t, tr.TryReserve("s1"))
	require.True(t, tr.TryReserve("s1"))
	require.False(t, tr.TryReserve("s1"))

	// other searches still have headroom
	require.True(t, tr.TryReserve("s2"))
	require.False(t, tr.CanEnqueueMore("s1"))
	require.True(t, tr.CanEnqueueMore("s2"))
}

func TestUnlimited(t *testing.T) {
	tr := New(kv.NewInMemory(), 0, 0)

	for i := 0; i < 1000; i++ {
		require.True(t, tr.TryReserve("s1"))
	}
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	store := kv.NewInMemory()

	tr := New(store, 6, 0)
	for i := 0; i < 5; i++ {
		require.True(t, tr.TryReserve("s1"))
	}
	require.NoError(t, tr.Persist(ctx))

	resumed := New(store, 6, 0)
	require.NoError(t, resumed.Load(ctx))
	require.Equal(t, 5, resumed.EnqueuedTotal())

	require.True(t, resumed.TryReserve("s1"))
	require.False(t, resumed.TryReserve("s1"))
}

func TestLoadEmptyStore(t *testing.T) {
	tr := New(kv.NewInMemory(), 1, 0)
	require.NoError(t, tr.Load(context.Background()))
	require.Zero(t, tr.EnqueuedTotal())
}
