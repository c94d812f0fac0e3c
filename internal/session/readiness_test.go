package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

func TestReadinessImmediateWhenReady(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkReady)

	require.NoError(t, tr.AwaitReady("cam-1", 10*time.Millisecond))
}

func TestReadinessResolvesAllWaiters(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkConnecting)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- tr.AwaitReady("cam-1", time.Second) }()
	}
	time.Sleep(20 * time.Millisecond)

	tr.Observe("cam-1", models.LinkReady)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}
}

func TestReadinessTimeout(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkConnecting)

	err := tr.AwaitReady("cam-1", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrReadinessTimeout)

	// A timed-out waiter must not leak: a later ready still works for
	// new waiters.
	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Observe("cam-1", models.LinkReady)
	}()
	require.NoError(t, tr.AwaitReady("cam-1", time.Second))
}

func TestReadinessWaiterScopedToTarget(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkConnecting)
	tr.Observe("cam-2", models.LinkConnecting)

	errs := make(chan error, 1)
	go func() { errs <- tr.AwaitReady("cam-1", 50*time.Millisecond) }()
	time.Sleep(10 * time.Millisecond)

	// Readiness of another target must not resolve the waiter.
	tr.Observe("cam-2", models.LinkReady)
	require.ErrorIs(t, <-errs, ErrReadinessTimeout)
}

func TestReadinessLostLink(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkReady)
	tr.Observe("cam-1", models.LinkLost)

	state, ok := tr.State("cam-1")
	require.True(t, ok)
	assert.Equal(t, models.LinkLost, state)

	err := tr.AwaitReady("cam-1", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrReadinessTimeout)
}

func TestReadinessSeedDoesNotOverwrite(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Seed("cam-1")

	state, ok := tr.State("cam-1")
	require.True(t, ok)
	assert.Equal(t, models.LinkUnknown, state)

	tr.Observe("cam-1", models.LinkReady)
	tr.Seed("cam-1")

	state, _ = tr.State("cam-1")
	assert.Equal(t, models.LinkReady, state)
}

func TestReadinessSnapshot(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkReady)
	tr.Observe("hub-1", models.LinkConnecting)

	snap := tr.Snapshot()
	assert.Equal(t, map[string]models.LinkState{
		"cam-1": models.LinkReady,
		"hub-1": models.LinkConnecting,
	}, snap)

	// Snapshot is a copy.
	snap["cam-1"] = models.LinkLost
	state, _ := tr.State("cam-1")
	assert.Equal(t, models.LinkReady, state)
}

func TestReadinessCloseFailsWaiters(t *testing.T) {
	tr := NewReadinessTracker()
	tr.Observe("cam-1", models.LinkConnecting)

	errs := make(chan error, 1)
	go func() { errs <- tr.AwaitReady("cam-1", time.Second) }()
	time.Sleep(10 * time.Millisecond)

	tr.Close()
	require.ErrorIs(t, <-errs, ErrCancelled)
	require.ErrorIs(t, tr.AwaitReady("cam-1", time.Second), ErrCancelled)
}
