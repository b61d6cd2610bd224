package controller

import (
	"testctl/internal/collection"
	"testctl/pkg/logging"
)

// RunCancelledEvent notifies subscribers that a run (or all runs) was
// cancelled.
type RunCancelledEvent struct {
	RunID string // empty when All is set
	All   bool
}

// SubscribeRunCancellations returns a channel receiving run-cancellation
// events. The channel is buffered; events are dropped rather than blocking
// the controller when a subscriber falls behind.
func (c *Controller) SubscribeRunCancellations() <-chan RunCancelledEvent {
	eventChan := make(chan RunCancelledEvent, 16)

	c.mu.Lock()
	c.runSubscribers = append(c.runSubscribers, eventChan)
	c.mu.Unlock()

	return eventChan
}

// SubscribeDiffs subscribes to every diff the mirror applies, delegating to
// the collection. Callers unsubscribe through the collection as well.
func (c *Controller) SubscribeDiffs(bufferSize int) *collection.DiffSubscription {
	return c.col.Subscribe(bufferSize)
}

func (c *Controller) publishRunCancelled(event RunCancelledEvent) {
	// Send to all subscribers (don't hold the lock while sending)
	c.mu.RLock()
	subscribers := make([]chan<- RunCancelledEvent, len(c.runSubscribers))
	copy(subscribers, c.runSubscribers)
	c.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
			// Event sent successfully
		default:
			// Channel full, drop event
			logging.Warn("Controller", "Dropped run-cancellation event (subscriber channel full)")
		}
	}
}
