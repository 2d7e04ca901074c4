package exiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedCounter struct {
	n int
}

func (c fixedCounter) Count(_ context.Context) (int, error) {
	return c.n, nil
}

func runExiter(t *testing.T, e Exiter) (cancelled func() bool, stop func()) {
	t.Helper()

	e.(*exiter).interval = time.Millisecond * 10

	ctx, cancel := context.WithCancel(context.Background())
	runCtx, runCancel := context.WithCancel(context.Background())

	e.SetCancelFunc(cancel)

	go e.Run(runCtx)

	return func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}, runCancel
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}

		time.Sleep(time.Millisecond * 5)
	}

	return cond()
}

func TestCancelsWhenAllWorkDone(t *testing.T) {
	e := New()
	e.SetSeedCount(2)

	cancelled, stop := runExiter(t, e)
	defer stop()

	e.IncrSeedCompleted(1)
	e.IncrPlacesFound(3)
	e.IncrPlacesCompleted(3)
	require.False(t, cancelled())

	e.IncrSeedCompleted(1)
	require.True(t, waitFor(t, cancelled))
}

func TestDoesNotCancelWithPlacesPending(t *testing.T) {
	e := New()
	e.SetSeedCount(1)

	cancelled, stop := runExiter(t, e)
	defer stop()

	e.IncrSeedCompleted(1)
	e.IncrPlacesFound(2)
	e.IncrPlacesCompleted(1)

	time.Sleep(time.Millisecond * 50)
	require.False(t, cancelled())

	e.IncrPlacesCompleted(1)
	require.True(t, waitFor(t, cancelled))
}

func TestWaitsForResultWrites(t *testing.T) {
	e := New()
	e.SetSeedCount(1)
	e.SetResultCounter(fixedCounter{n: 0})

	cancelled, stop := runExiter(t, e)
	defer stop()

	e.IncrSeedCompleted(1)
	e.IncrPlacesFound(1)
	e.IncrPlacesCompleted(1)

	time.Sleep(time.Millisecond * 50)
	require.False(t, cancelled())

	e.SetResultCounter(fixedCounter{n: 1})
	require.True(t, waitFor(t, cancelled))
}
