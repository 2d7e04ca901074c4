package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/kv"
)

func TestCountersAndSummary(t *testing.T) {
	c := New(kv.NewInMemory())

	c.SearchPage()
	c.SearchPage()
	c.PlaceFound()
	c.PlaceCrawled()
	c.PlaceFailed()
	c.Ads(3)
	c.Duplicate()
	c.GeoRejected()

	line := c.Summary()
	require.Contains(t, line, "pages=2")
	require.Contains(t, line, "found=1")
	require.Contains(t, line, "crawled=1")
	require.Contains(t, line, "failed=1")
	require.Contains(t, line, "ads=3")
	require.Contains(t, line, "duplicates=1")
	require.Contains(t, line, "geo_rejected=1")
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	store := kv.NewInMemory()

	c := New(store)
	c.PlaceFound()
	c.PlaceFound()
	require.NoError(t, c.Persist(ctx))

	resumed := New(store)
	require.NoError(t, resumed.Load(ctx))
	resumed.PlaceFound()
	require.NoError(t, resumed.Persist(ctx))

	final := New(store)
	require.NoError(t, final.Load(ctx))
	require.Contains(t, final.Summary(), "found=3")
}
