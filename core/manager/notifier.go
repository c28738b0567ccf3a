package manager

import (
	"sync"
	"time"

	"finetune-orchestrator/core/models"
)

// subscriberBuffer is the per-observer event queue depth. A slow observer
// loses events rather than stalling the coordinator.
const subscriberBuffer = 64

// Notifier fans change notifications out to observers of the job store.
// The core logic never depends on who is listening; the UI layer subscribes
// and renders.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan models.Event]struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan models.Event]struct{})}
}

// Subscribe registers a new observer channel.
func (n *Notifier) Subscribe() chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (n *Notifier) Unsubscribe(ch chan models.Event) {
	n.mu.Lock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
	n.mu.Unlock()
}

// Publish delivers an event to every observer without blocking; events to
// full queues are dropped.
func (n *Notifier) Publish(ev models.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
