package filerunner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/placecrawl/placecrawl/kv"
	"github.com/placecrawl/placecrawl/placecache"
	"github.com/placecrawl/placecrawl/quota"
	"github.com/placecrawl/placecrawl/snapshot"
	"github.com/placecrawl/placecrawl/stats"
)

func TestPersistEveryFlushesWhileRunning(t *testing.T) {
	store, err := kv.NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	r := &fileRunner{
		store:       store,
		quota:       quota.New(store, 100, 10),
		cache:       placecache.New(store, "test"),
		stats:       stats.New(store),
		snapshotter: snapshot.New(store, nil),
	}

	require.True(t, r.quota.TryReserve("q1"))
	require.True(t, r.quota.TryReserve("q1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		r.persistEvery(ctx, 10*time.Millisecond)
		close(done)
	}()

	// the state reaches the store while the loop is still running
	require.Eventually(t, func() bool {
		fresh := quota.New(store, 100, 10)
		if err := fresh.Load(context.Background()); err != nil {
			return false
		}

		return fresh.EnqueuedTotal() == 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
