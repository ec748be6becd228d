package timeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ghermez/ariabridge/internal/events"
)

// Controller feeds bus events into a Recorder.
type Controller struct {
	bus      *events.Bus
	recorder Recorder
	logger   zerolog.Logger

	sub    events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ControllerOption is a functional option for configuring the Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger for the controller.
func WithControllerLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a controller recording every event of bus.
func NewController(bus *events.Bus, recorder Recorder, opts ...ControllerOption) *Controller {
	c := &Controller{
		bus:      bus,
		recorder: recorder,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start subscribes to the bus and records events in the background.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.sub = c.bus.Subscribe()

	c.wg.Go(func() {
		Consume(ctx, c.sub, c.recorder)
	})

	c.logger.Info().Msg("timeline controller started")
}

// Stop unsubscribes and waits for the background loop to end.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.sub != nil {
		c.bus.Unsubscribe(c.sub)
	}
	c.wg.Wait()

	c.logger.Info().Msg("timeline controller stopped")
}

// Consume records events from sub until ctx ends or sub is closed.
func Consume(ctx context.Context, sub events.Subscription, recorder Recorder) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			recorder.Record(FromEvent(ev))
		}
	}
}

// FromEvent converts a bus event into a timeline entry.
func FromEvent(ev events.Event) Entry {
	return Entry{
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		Message:   Message(ev),
		GID:       ev.GID,
		Details:   ev.Data,
	}
}

// Message returns a human-readable description of ev.
func Message(ev events.Event) string {
	str := func(key string) string {
		s, _ := ev.Data[key].(string)
		return s
	}

	switch ev.Type {
	case events.DaemonStarted:
		return fmt.Sprintf("aria2 %s started", str("version"))
	case events.DaemonShutdown:
		return "aria2 shut down"
	case events.TaskAdded:
		return fmt.Sprintf("Added %s", str("url"))
	case events.TaskPaused:
		return fmt.Sprintf("Paused %s", ev.GID)
	case events.TaskResumed:
		return fmt.Sprintf("Resumed %s", ev.GID)
	case events.TaskRemoved:
		return fmt.Sprintf("Removed %s", ev.GID)
	case events.SpeedLimitChanged:
		return fmt.Sprintf("Speed limit of %s set to %s", ev.GID, str("limit"))
	case events.TaskCompleted:
		return fmt.Sprintf("Completed: %s", str("file_name"))
	case events.TaskFailed:
		return fmt.Sprintf("Failed: %s", str("error"))
	case events.TaskRelocated:
		return fmt.Sprintf("Moved %s to %s", str("file_name"), str("destination"))
	case events.OperationFailed:
		return fmt.Sprintf("%s failed: %s", str("op"), str("error"))
	default:
		return fmt.Sprintf("Event: %s", ev.Type)
	}
}
