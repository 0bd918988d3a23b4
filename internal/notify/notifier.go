// Package notify fans background completion events out to subscribers.
// Publishing is non-blocking: a subscriber that cannot keep up loses the
// event rather than stalling the pipeline.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"deskd/internal/logging"
	"deskd/internal/types"
)

// Notification is one completion event delivered to subscribers.
type Notification struct {
	Type      string              `json:"type"`
	Response  string              `json:"response"`
	HandledBy []string            `json:"handled_by"`
	Method    types.RoutingMethod `json:"method"`
	Timestamp time.Time           `json:"timestamp"`
}

// TypeOrchestrationComplete marks a finished background orchestration.
const TypeOrchestrationComplete = "orchestration-complete"

// Notifier distributes notifications to any number of subscribers. The zero
// subscriber case is a silent no-op.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	buffer int
	log    *zap.Logger
}

// New creates a notifier whose subscriber channels buffer the given number
// of events.
func New(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 8
	}
	return &Notifier{
		subs:   make(map[int]chan Notification),
		buffer: buffer,
		log:    logging.Named("notify"),
	}
}

// Subscribe registers a new subscriber. The cancel function removes the
// subscription and closes its channel; it is safe to call more than once.
func (n *Notifier) Subscribe() (<-chan Notification, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Notification, n.buffer)
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the notification to every subscriber without blocking.
// A full subscriber buffer drops the event for that subscriber only.
func (n *Notifier) Publish(note Notification) {
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- note:
		default:
			n.log.Warn("notification dropped for slow subscriber", zap.Int("subscriber", id))
		}
	}
}

// SubscriberCount reports the current number of subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
