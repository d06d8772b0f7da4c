// Package broadcast fans lifecycle notifications out to push consumers
// (WebSocket sessions, the MQTT publisher) without ever blocking the engine.
// Each subscriber owns a bounded channel; a consumer that falls behind loses
// notifications and the loss is counted, never propagated upstream. Consumers
// that miss events re-synchronize from the engine snapshot.
package broadcast

import (
	"log"
	"sync"
	"sync/atomic"

	"mmdvmmon/internal/ratelimit"
	"mmdvmmon/qso"
)

// DefaultBuffer is the per-subscriber channel depth used when the caller
// passes zero.
const DefaultBuffer = 64

// Subscription is one consumer's bounded feed. Receive from C; call the hub's
// Unsubscribe when done, after which C is closed.
type Subscription struct {
	C  <-chan qso.Notification
	id uint64
	ch chan qso.Notification
}

// Hub is the publish side. Publish is non-blocking regardless of subscriber
// behavior.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	dropLog   ratelimit.Counter
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:    make(map[uint64]*Subscription),
		dropLog: ratelimit.NewCounter(ratelimit.DefaultLogInterval),
	}
}

// Subscribe registers a consumer with the given buffer depth (DefaultBuffer
// when <= 0). Safe to call while the pipeline runs.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan qso.Notification, buffer)
	sub := &Subscription{C: ch, id: h.nextID.Add(1), ch: ch}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the consumer and closes its channel. Unblocking a
// consumer waiting on C is exactly this close.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()
	if present {
		close(sub.ch)
	}
}

// Publish delivers n to every current subscriber, dropping for any whose
// buffer is full. Drops are counted and logged at most once per interval.
func (h *Hub) Publish(n qso.Notification) {
	h.published.Add(1)

	h.mu.RLock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- n:
		default:
			dropped := h.dropped.Add(1)
			if _, allow := h.dropLog.Inc(); allow {
				log.Printf("Broadcast: subscriber %d full, dropping %s (total dropped %d)", sub.id, n.Type, dropped)
			}
		}
	}
	h.mu.RUnlock()
}

// Close unsubscribes every consumer, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats reports lifetime publish and drop totals.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}
