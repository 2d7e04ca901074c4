package placecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/geo"
	"github.com/placecrawl/placecrawl/kv"
)

func TestPutGet(t *testing.T) {
	c := New(kv.NewInMemory(), "")
	require.NoError(t, c.Load(context.Background()))

	c.Put("p1", "coffee", &geo.Point{Lat: 1, Lng: 2})

	entry, ok := c.Get("p1")
	require.True(t, ok)
	require.Equal(t, "p1", entry.PlaceID)
	require.Equal(t, []string{"coffee"}, entry.Keywords)
	require.NotNil(t, entry.Location)
	require.Equal(t, 1.0, entry.Location.Lat)

	require.True(t, c.Has("p1"))
	require.False(t, c.Has("p2"))
	require.Nil(t, c.Location("p2"))
}

func TestPutSkipsRepeatedKeyword(t *testing.T) {
	c := New(kv.NewInMemory(), "")
	require.NoError(t, c.Load(context.Background()))

	c.Put("p1", "coffee", nil)
	c.Put("p1", "coffee", nil)
	c.Put("p1", "tea", nil)
	c.Put("p1", "coffee", nil)

	entry, _ := c.Get("p1")
	require.Equal(t, []string{"coffee", "tea", "coffee"}, entry.Keywords)
}

func TestSaveBeforeLoad(t *testing.T) {
	c := New(kv.NewInMemory(), "")
	require.ErrorIs(t, c.Save(context.Background()), ErrSaveBeforeLoad)
}

func TestSaveMergesWithPersisted(t *testing.T) {
	ctx := context.Background()
	store := kv.NewInMemory()

	first := New(store, "run")
	require.NoError(t, first.Load(ctx))
	first.Put("p1", "coffee", &geo.Point{Lat: 1, Lng: 2})
	first.Put("p2", "coffee", nil)
	require.NoError(t, first.Save(ctx))

	second := New(store, "run")
	require.NoError(t, second.Load(ctx))
	require.True(t, second.Has("p1"))
	require.True(t, second.Has("p2"))

	// a sibling run persists a new keyword for p1 behind our back
	sibling := New(store, "run")
	require.NoError(t, sibling.Load(ctx))
	sibling.Put("p1", "espresso", nil)
	require.NoError(t, sibling.Save(ctx))

	second.Put("p1", "tea", nil)
	require.NoError(t, second.Save(ctx))

	third := New(store, "run")
	require.NoError(t, third.Load(ctx))

	entry, ok := third.Get("p1")
	require.True(t, ok)
	require.ElementsMatch(t, []string{"coffee", "espresso", "tea"}, entry.Keywords)
	require.NotNil(t, entry.Location)
}

func TestCacheKeyIsolation(t *testing.T) {
	ctx := context.Background()
	store := kv.NewInMemory()

	a := New(store, "a")
	require.NoError(t, a.Load(ctx))
	a.Put("p1", "coffee", nil)
	require.NoError(t, a.Save(ctx))

	b := New(store, "b")
	require.NoError(t, b.Load(ctx))
	require.False(t, b.Has("p1"))
}

func TestIDsInRegion(t *testing.T) {
	c := New(kv.NewInMemory(), "")
	require.NoError(t, c.Load(context.Background()))

	c.Put("inside-1", "coffee", &geo.Point{Lat: 5, Lng: 5})
	c.Put("inside-2", "tea", &geo.Point{Lat: 6, Lng: 6})
	c.Put("outside", "coffee", &geo.Point{Lat: 50, Lng: 50})
	c.Put("nowhere", "coffee", nil)

	fence := geo.PolygonFromRings([]geo.Point{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0},
	})

	ids := c.IDsInRegion(fence, 0)
	require.ElementsMatch(t, []string{"inside-1", "inside-2"}, ids)

	ids = c.IDsInRegion(fence, 0, "coffee")
	require.Equal(t, []string{"inside-1"}, ids)

	ids = c.IDsInRegion(fence, 1)
	require.Len(t, ids, 1)

	// nil fence matches everything with or without a location
	ids = c.IDsInRegion(nil, 0)
	require.Len(t, ids, 4)
}
