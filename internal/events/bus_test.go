package events_test

import (
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghermez/ariabridge/internal/events"
)

func receive(t *testing.T, sub events.Subscription) events.Event {
	t.Helper()
	select {
	case ev, ok := <-sub:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected to receive event")
		return events.Event{}
	}
}

func assertNothing(t *testing.T, sub events.Subscription) {
	t.Helper()
	select {
	case ev := <-sub:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew(t *testing.T) {
	t.Run("creates bus with defaults", func(t *testing.T) {
		bus := events.New()
		require.NotNil(t, bus)
		assert.Equal(t, 0, bus.SubscriberCount())
	})

	t.Run("applies buffer size", func(t *testing.T) {
		bus := events.New(events.WithLogger(zerolog.Nop()), events.WithBufferSize(50))
		sub := bus.Subscribe()

		for range 50 {
			bus.Publish(events.Event{Type: events.TaskAdded})
		}
		for range 50 {
			receive(t, sub)
		}
		bus.Unsubscribe(sub)
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("filters by type", func(t *testing.T) {
		bus := events.New()
		sub := bus.Subscribe(events.TaskPaused, events.TaskResumed)

		gid := gofakeit.Numerify("################")
		bus.Publish(events.Event{Type: events.TaskPaused, GID: gid})

		ev := receive(t, sub)
		assert.Equal(t, events.TaskPaused, ev.Type)
		assert.Equal(t, gid, ev.GID)

		bus.Publish(events.Event{Type: events.TaskAdded, GID: gid})
		assertNothing(t, sub)

		bus.Unsubscribe(sub)
	})

	t.Run("multiple subscribers receive same event", func(t *testing.T) {
		bus := events.New()
		sub1 := bus.Subscribe()
		sub2 := bus.Subscribe(events.DaemonStarted)

		assert.Equal(t, 2, bus.SubscriberCount())
		bus.Publish(events.Event{Type: events.DaemonStarted, Data: map[string]any{"version": "1.37.0"}})

		for _, sub := range []events.Subscription{sub1, sub2} {
			ev := receive(t, sub)
			assert.Equal(t, "1.37.0", ev.Data["version"])
		}
	})

	t.Run("after close returns closed channel", func(t *testing.T) {
		bus := events.New()
		bus.Close()

		sub := bus.Subscribe()
		_, ok := <-sub
		assert.False(t, ok)
		assert.Equal(t, 0, bus.SubscriberCount())
	})
}

func TestPublish(t *testing.T) {
	t.Run("sets timestamp if not provided", func(t *testing.T) {
		bus := events.New()
		sub := bus.Subscribe()

		before := time.Now()
		bus.Publish(events.Event{Type: events.TaskRemoved})
		after := time.Now()

		ev := receive(t, sub)
		assert.False(t, ev.Timestamp.Before(before))
		assert.False(t, ev.Timestamp.After(after))
	})

	t.Run("preserves provided timestamp", func(t *testing.T) {
		bus := events.New()
		sub := bus.Subscribe()

		ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
		bus.Publish(events.Event{Type: events.TaskRemoved, Timestamp: ts})

		assert.Equal(t, ts, receive(t, sub).Timestamp)
	})

	t.Run("drops event when buffer full", func(t *testing.T) {
		bus := events.New(events.WithBufferSize(2))
		sub := bus.Subscribe()

		for _, gid := range []string{"1", "2", "3"} {
			bus.Publish(events.Event{Type: events.TaskAdded, GID: gid})
		}

		var received []string
		for range 3 {
			select {
			case ev := <-sub:
				received = append(received, ev.GID)
			case <-time.After(50 * time.Millisecond):
			}
		}
		assert.Equal(t, []string{"1", "2"}, received)
	})

	t.Run("publish after close is discarded", func(_ *testing.T) {
		bus := events.New()
		bus.Subscribe()
		bus.Close()

		bus.Publish(events.Event{Type: events.DaemonShutdown})
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Run("closes channel", func(t *testing.T) {
		bus := events.New()
		sub := bus.Subscribe()

		bus.Unsubscribe(sub)

		_, ok := <-sub
		assert.False(t, ok)
	})

	t.Run("others keep receiving", func(t *testing.T) {
		bus := events.New()
		sub1 := bus.Subscribe()
		sub2 := bus.Subscribe()
		sub3 := bus.Subscribe()

		bus.Unsubscribe(sub2)
		assert.Equal(t, 2, bus.SubscriberCount())

		bus.Publish(events.Event{Type: events.OperationFailed})
		receive(t, sub1)
		receive(t, sub3)
	})

	t.Run("unknown and repeated unsubscribe are ignored", func(_ *testing.T) {
		bus := events.New()
		bus.Unsubscribe(make(chan events.Event))

		sub := bus.Subscribe()
		bus.Unsubscribe(sub)
		bus.Unsubscribe(sub)
	})
}

func TestClose(t *testing.T) {
	bus := events.New()
	subs := []events.Subscription{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}
	bus.Unsubscribe(subs[0])

	bus.Close()
	bus.Close()

	for _, sub := range subs {
		_, ok := <-sub
		assert.False(t, ok)
	}
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestConcurrency(t *testing.T) {
	t.Run("concurrent subscribe and publish", func(_ *testing.T) {
		bus := events.New(events.WithBufferSize(1000))
		var wg sync.WaitGroup

		for range 10 {
			wg.Go(func() {
				for range 100 {
					bus.Publish(events.Event{Type: events.SpeedLimitChanged, GID: "abc"})
				}
			})
		}

		subs := make([]events.Subscription, 5)
		for i := range subs {
			subs[i] = bus.Subscribe()
		}

		wg.Wait()
		bus.Close()
	})

	t.Run("concurrent subscribe and unsubscribe", func(t *testing.T) {
		bus := events.New()
		var wg sync.WaitGroup

		for range 100 {
			wg.Go(func() {
				sub := bus.Subscribe()
				time.Sleep(time.Millisecond)
				bus.Unsubscribe(sub)
			})
		}

		wg.Wait()
		assert.Equal(t, 0, bus.SubscriberCount())
	})
}

func TestEventTypesAreDistinct(t *testing.T) {
	types := []events.Type{
		events.DaemonStarted, events.DaemonShutdown,
		events.TaskAdded, events.TaskPaused, events.TaskResumed, events.TaskRemoved,
		events.SpeedLimitChanged, events.TaskCompleted, events.TaskFailed,
		events.TaskRelocated, events.OperationFailed,
	}

	seen := make(map[events.Type]bool)
	for _, et := range types {
		assert.False(t, seen[et], "duplicate event type: %s", et)
		seen[et] = true
	}
}
