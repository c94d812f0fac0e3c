package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

func TestBusDeliversMatchingEvents(t *testing.T) {
	b := NewBus()
	all := b.Subscribe(Filter{})
	motionOnly := b.Subscribe(Filter{Types: []models.EventType{models.EventMotion}})
	cam2Only := b.Subscribe(Filter{TargetID: "cam-2"})

	b.Publish(models.NewDetectionEvent(models.EventMotion, "cam-1", "Front Door", true))
	b.Publish(models.NewDetectionEvent(models.EventRings, "cam-2", "Doorbell", true))

	ev := <-all.Events()
	assert.Equal(t, models.EventMotion, ev.Type)
	ev = <-all.Events()
	assert.Equal(t, models.EventRings, ev.Type)

	ev = <-motionOnly.Events()
	assert.Equal(t, models.EventMotion, ev.Type)
	assert.Empty(t, motionOnly.Events())

	ev = <-cam2Only.Events()
	assert.Equal(t, "cam-2", ev.TargetID)
	assert.Empty(t, cam2Only.Events())
}

func TestBusFilterCombinesTargetAndTypes(t *testing.T) {
	f := Filter{TargetID: "cam-1", Types: []models.EventType{models.EventMotion, models.EventRings}}

	assert.True(t, f.Matches(models.NewDetectionEvent(models.EventMotion, "cam-1", "", true)))
	assert.True(t, f.Matches(models.NewDetectionEvent(models.EventRings, "cam-1", "", true)))
	assert.False(t, f.Matches(models.NewDetectionEvent(models.EventMotion, "cam-2", "", true)))
	assert.False(t, f.Matches(models.NewPropertyChangedEvent("cam-1", "", "battery", 10)))
}

func TestBusUpdateFilter(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(Filter{Types: []models.EventType{models.EventMotion}})

	b.Publish(models.NewDetectionEvent(models.EventRings, "cam-1", "", true))
	assert.Empty(t, sub.Events())

	b.UpdateFilter(sub, Filter{Types: []models.EventType{models.EventRings}})
	b.Publish(models.NewDetectionEvent(models.EventRings, "cam-1", "", true))

	ev := <-sub.Events()
	assert.Equal(t, models.EventRings, ev.Type)
}

func TestBusSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBus()
	slow := b.Subscribe(Filter{})
	healthy := b.Subscribe(Filter{})

	// Overflow the slow subscriber's buffer; Publish must never block.
	for i := 0; i < subscriptionBuffer+10; i++ {
		b.Publish(models.NewDetectionEvent(models.EventMotion, "cam-1", "", true))
	}

	assert.Len(t, slow.Events(), subscriptionBuffer)
	assert.Len(t, healthy.Events(), subscriptionBuffer)
}

func TestBusUnsubscribeIdempotent(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(Filter{})

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after removal must not panic.
	b.Publish(models.NewDetectionEvent(models.EventMotion, "cam-1", "", true))
}

func TestBusCloseClosesSubscriberChannels(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(Filter{})

	b.Close()
	_, open := <-sub.Events()
	require.False(t, open)

	// Subscribing after close yields an already-closed channel.
	late := b.Subscribe(Filter{})
	_, open = <-late.Events()
	assert.False(t, open)
}
