package session

import (
	"sync"
	"time"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

type readyWaiter struct {
	ch    chan error
	timer *time.Timer
}

// ReadinessTracker tracks per-target local-link state and lets callers
// await readiness. A ready signal resolves every current waiter on
// that target; a waiter's timeout removes only that waiter.
type ReadinessTracker struct {
	mu      sync.Mutex
	links   map[string]models.LinkState
	waiters map[string][]*readyWaiter
	closed  bool
}

// NewReadinessTracker creates a readiness tracker
func NewReadinessTracker() *ReadinessTracker {
	return &ReadinessTracker{
		links:   make(map[string]models.LinkState),
		waiters: make(map[string][]*readyWaiter),
	}
}

// Observe records a link transition and resolves waiters on ready
func (t *ReadinessTracker) Observe(targetID string, state models.LinkState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.links[targetID] = state
	if state != models.LinkReady {
		return
	}

	for _, w := range t.waiters[targetID] {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.ch <- nil
	}
	delete(t.waiters, targetID)
}

// Seed registers a target as tracked without overwriting an already
// observed link state.
func (t *ReadinessTracker) Seed(targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.links[targetID]; !ok {
		t.links[targetID] = models.LinkUnknown
	}
}

// State returns the tracked link state for a target
func (t *ReadinessTracker) State(targetID string) (models.LinkState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.links[targetID]
	return state, ok
}

// Snapshot copies the current link state of every tracked target
func (t *ReadinessTracker) Snapshot() map[string]models.LinkState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]models.LinkState, len(t.links))
	for id, state := range t.links {
		out[id] = state
	}
	return out
}

// AwaitReady blocks until the target's local link is ready, the
// timeout elapses (ErrReadinessTimeout), or the tracker shuts down
// (ErrCancelled). Already-ready targets resolve immediately.
func (t *ReadinessTracker) AwaitReady(targetID string, timeout time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrCancelled
	}
	if t.links[targetID] == models.LinkReady {
		t.mu.Unlock()
		return nil
	}

	w := &readyWaiter{ch: make(chan error, 1)}
	w.timer = time.AfterFunc(timeout, func() {
		t.expire(targetID, w)
	})
	t.waiters[targetID] = append(t.waiters[targetID], w)
	t.mu.Unlock()

	return <-w.ch
}

// expire times out a single waiter. If the waiter was already resolved
// by a ready signal or shutdown it is no longer registered and the
// timeout is a no-op.
func (t *ReadinessTracker) expire(targetID string, w *readyWaiter) {
	t.mu.Lock()
	ws := t.waiters[targetID]
	found := false
	for i, cand := range ws {
		if cand == w {
			t.waiters[targetID] = append(ws[:i], ws[i+1:]...)
			found = true
			break
		}
	}
	if len(t.waiters[targetID]) == 0 {
		delete(t.waiters, targetID)
	}
	t.mu.Unlock()

	if found {
		w.ch <- ErrReadinessTimeout
	}
}

// Close fails every registered waiter with ErrCancelled
func (t *ReadinessTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, ws := range t.waiters {
		for _, w := range ws {
			if w.timer != nil {
				w.timer.Stop()
			}
			w.ch <- ErrCancelled
		}
	}
	t.waiters = make(map[string][]*readyWaiter)
}
