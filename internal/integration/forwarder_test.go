package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub-server/devicehub-server/internal/config"
	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/internal/session"
	"github.com/devicehub-server/devicehub-server/internal/storage"
)

// eventLogStub records persisted event logs. Only CreateEventLog is
// implemented; the forwarder touches nothing else on the store.
type eventLogStub struct {
	storage.Store

	mu     sync.Mutex
	events []*models.EventLog
}

func (s *eventLogStub) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventLogStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventLogStub) last() *models.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func TestForwarderPersistsSessionEvents(t *testing.T) {
	store := &eventLogStub{}
	f, err := NewForwarder(nil, store, config.MQTTConfig{})
	require.NoError(t, err)
	defer f.Close()

	registry := session.NewRegistry(session.Config{
		ConnectTimeout: time.Second,
	}, devicesvc.NewSimFactory(devicesvc.SimOptions{
		Targets: []devicesvc.TargetInfo{{TargetID: "cam-1", Name: "Front Door"}},
	}))
	defer registry.Close()
	registry.OnCreate(f.Attach)

	s, err := registry.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	// A property write comes back as a propertyChanged event, which the
	// forwarder persists.
	require.NoError(t, s.SetProperty("cam-1", "motionDetection", false))

	require.Eventually(t, func() bool { return store.count() >= 1 },
		2*time.Second, 10*time.Millisecond)

	entry := store.last()
	assert.Equal(t, "acc-1", entry.AccountID)
	assert.Equal(t, "cam-1", entry.TargetID)
	assert.Equal(t, models.EventPropertyChanged, entry.Type)
	assert.Equal(t, "motionDetection", entry.Details["property"])
	assert.Equal(t, false, entry.Details["value"])
}

func TestForwarderSurvivesNilSinks(t *testing.T) {
	f, err := NewForwarder(nil, nil, config.MQTTConfig{})
	require.NoError(t, err)
	defer f.Close()

	registry := session.NewRegistry(session.Config{
		ConnectTimeout: time.Second,
	}, devicesvc.NewSimFactory(devicesvc.SimOptions{
		Targets: []devicesvc.TargetInfo{{TargetID: "cam-1", Name: "Front Door"}},
	}))
	defer registry.Close()
	registry.OnCreate(f.Attach)

	s, err := registry.Acquire("acc-1", devicesvc.Config{Email: "a@b.c", Password: "p"})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.SetProperty("cam-1", "motionDetection", true))

	// Nothing to assert beyond the absence of panics; give the
	// forwarder a moment to process.
	time.Sleep(50 * time.Millisecond)
}
