package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
)

func fakeFactory() (devicesvc.Factory, *int) {
	var calls int
	var mu sync.Mutex
	return func(cfg devicesvc.Config) (devicesvc.Client, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return newFakeClient(), nil
	}, &calls
}

func TestRegistryAcquireReturnsSameSession(t *testing.T) {
	factory, calls := fakeFactory()
	r := NewRegistry(fastConfig(), factory)
	defer r.Close()

	a, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	b, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, *calls)
}

func TestRegistryAcquireConcurrent(t *testing.T) {
	factory, calls := fakeFactory()
	r := NewRegistry(fastConfig(), factory)
	defer r.Close()

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, *calls)
}

func TestRegistryDistinctAccounts(t *testing.T) {
	factory, _ := fakeFactory()
	r := NewRegistry(fastConfig(), factory)
	defer r.Close()

	a, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	b, err := r.Acquire("acc-2", devicesvc.Config{Email: "d@e.f", Password: "p"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, "acc-1", a.AccountID())
	assert.Equal(t, "acc-2", b.AccountID())
	assert.Len(t, r.List(), 2)
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry(fastConfig(), func(cfg devicesvc.Config) (devicesvc.Client, error) {
		return nil, errors.New("missing credentials")
	})
	defer r.Close()

	_, err := r.Acquire("acc-1", devicesvc.Config{})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)

	// A failed acquire leaves no session behind.
	_, ok := r.Get("acc-1")
	assert.False(t, ok)
}

func TestRegistryRelease(t *testing.T) {
	factory, calls := fakeFactory()
	r := NewRegistry(fastConfig(), factory)
	defer r.Close()

	s, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)

	r.Release("acc-1")
	select {
	case <-s.Done():
	default:
		t.Fatal("released session still running")
	}

	// Releasing again is a no-op.
	r.Release("acc-1")

	// The next acquire builds a fresh session.
	fresh, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.Equal(t, 2, *calls)
}

func TestRegistryOnCreateHook(t *testing.T) {
	factory, _ := fakeFactory()
	r := NewRegistry(fastConfig(), factory)
	defer r.Close()

	var attached []string
	r.OnCreate(func(s *Session) {
		attached = append(attached, s.AccountID())
	})

	_, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	_, err = r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)

	// Hook fires once per created session, not per acquire.
	assert.Equal(t, []string{"acc-1"}, attached)
}

func TestRegistryClose(t *testing.T) {
	factory, _ := fakeFactory()
	r := NewRegistry(fastConfig(), factory)

	a, err := r.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	b, err := r.Acquire("acc-2", devicesvc.Config{Email: "d@e.f", Password: "p"})
	require.NoError(t, err)

	r.Close()

	<-a.Done()
	<-b.Done()
	assert.Empty(t, r.List())
}
