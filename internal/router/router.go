// Package router fans persisted events out to live, filtered subscribers.
//
// Delivery contract: Route never blocks the caller. Each matching
// subscription gets a non-blocking send; a full channel drops that
// delivery (the event is already durable in the journal, so a dropped
// live notification is recoverable via replay). A cancelled subscription
// is pruned lazily on its next delivery attempt, never by background
// polling.
package router

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loomworks/weft/internal/event"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 64

// Subscription is one live, filtered event receiver.
//
// Events arrives on C. Cancel is the only cancellation signal; after
// Cancel the router prunes the subscription on its next delivery attempt
// and closes C.
type Subscription struct {
	// ID uniquely identifies the subscription for observability.
	ID string

	// C receives matching events. Closed after the subscription is pruned.
	C <-chan event.Event

	ch         chan event.Event
	categories map[event.Category]bool // nil matches every category
	origins    map[string]bool         // nil matches every origin
	cancelled  atomic.Bool
}

// Cancel marks the subscription dead. Idempotent and safe from any
// goroutine. The channel stays open until the router's next delivery
// attempt discovers the cancellation.
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
}

// matches applies the AND of both filters.
func (s *Subscription) matches(ev event.Event) bool {
	if s.categories != nil && !s.categories[ev.Category] {
		return false
	}
	if s.origins != nil && !s.origins[ev.Origin] {
		return false
	}
	return true
}

// Router maintains the subscription table.
//
// The table is read-mostly: Subscribe mutates it (rare), Route and
// SubscriptionCount read it (frequent). An RWMutex keeps concurrent
// routes from blocking each other.
type Router struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]*Subscription

	dropped atomic.Uint64
	pruned  atomic.Uint64
}

// New creates a router with the given per-subscription channel capacity.
// A non-positive buffer uses DefaultBuffer.
func New(buffer int) *Router {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Router{
		buffer: buffer,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers a new subscription.
//
// A nil categories slice matches every category; a nil origins slice
// matches every origin. Non-nil filters are AND-combined. An empty
// non-nil slice therefore matches nothing, which is almost certainly a
// caller bug but is honored as stated.
func (r *Router) Subscribe(categories []event.Category, origins []string) *Subscription {
	sub := &Subscription{
		ID: uuid.Must(uuid.NewV7()).String(),
		ch: make(chan event.Event, r.buffer),
	}
	sub.C = sub.ch

	if categories != nil {
		sub.categories = make(map[event.Category]bool, len(categories))
		for _, c := range categories {
			sub.categories[c] = true
		}
	}
	if origins != nil {
		sub.origins = make(map[string]bool, len(origins))
		for _, o := range origins {
			sub.origins[o] = true
		}
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	slog.Debug("subscription created",
		"subscription_id", sub.ID,
		"categories", len(categories),
		"origins", len(origins),
	)
	return sub
}

// Route delivers ev to every matching live subscription.
//
// Never blocks: full channels drop the delivery, cancelled subscriptions
// are collected for pruning. Returns the number of successful deliveries.
func (r *Router) Route(ev event.Event) int {
	r.mu.RLock()
	var dead []*Subscription
	delivered := 0
	for _, sub := range r.subs {
		if sub.cancelled.Load() {
			dead = append(dead, sub)
			continue
		}
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			// Slow subscriber: drop rather than stall the write path.
			r.dropped.Add(1)
			slog.Debug("delivery dropped: subscriber channel full",
				"subscription_id", sub.ID,
				"event_id", ev.ID,
				"category", ev.Category,
			)
		}
	}
	r.mu.RUnlock()

	if len(dead) > 0 {
		r.prune(dead)
	}
	return delivered
}

// prune removes cancelled subscriptions discovered during routing.
func (r *Router) prune(dead []*Subscription) {
	r.mu.Lock()
	for _, sub := range dead {
		if _, ok := r.subs[sub.ID]; ok {
			delete(r.subs, sub.ID)
			close(sub.ch)
			r.pruned.Add(1)
			slog.Debug("subscription pruned", "subscription_id", sub.ID)
		}
	}
	r.mu.Unlock()
}

// SubscriptionCount returns the number of live subscriptions, counting
// cancelled-but-not-yet-pruned ones since pruning is lazy.
func (r *Router) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dropped returns the total deliveries dropped because a subscriber
// channel was full.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Pruned returns the total subscriptions removed after cancellation.
func (r *Router) Pruned() uint64 {
	return r.pruned.Load()
}
