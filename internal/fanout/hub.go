// Package fanout is the per-engagement publish/subscribe layer that pushes
// newly appended messages to open conversation views.
//
// Delivery is at-least-once for as long as a subscription stays open. A
// subscriber that cannot keep up is dropped instead of blocking publishers:
// its channel is closed and Dropped reports true, after which the consumer is
// expected to resubscribe and replay the persisted history.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/domain"
)

type Hub struct {
	mu     sync.Mutex
	buffer int
	nextID uint64
	subs   map[string]map[uint64]*Subscription
	closed bool
	log    zerolog.Logger
}

func NewHub(buffer int, l zerolog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[uint64]*Subscription),
		log:    l,
	}
}

type Subscription struct {
	id           uint64
	engagementID string
	ch           chan domain.MessageInsertedEvent
	hub          *Hub
	dropped      atomic.Bool
	shutdown     atomic.Bool
}

func (s *Subscription) Events() <-chan domain.MessageInsertedEvent { return s.ch }
func (s *Subscription) EngagementID() string                       { return s.engagementID }

// Dropped reports whether the hub closed the subscription because its buffer
// overflowed (or the hub shut down). Events may have been missed.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// HubClosed reports whether the subscription ended because the hub shut
// down. Resubscribing will not help.
func (s *Subscription) HubClosed() bool { return s.shutdown.Load() }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Subscribe opens a channel for one engagement.
func (h *Hub) Subscribe(engagementID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{
		id:           h.nextID,
		engagementID: engagementID,
		ch:           make(chan domain.MessageInsertedEvent, h.buffer),
		hub:          h,
	}
	if h.closed {
		s.dropped.Store(true)
		s.shutdown.Store(true)
		close(s.ch)
		return s
	}
	set, ok := h.subs[engagementID]
	if !ok {
		set = make(map[uint64]*Subscription)
		h.subs[engagementID] = set
	}
	set[s.id] = s
	observability.FanoutSubscribers.Inc()
	return s
}

func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

// remove must be called with h.mu held. The channel is closed exactly once,
// by whoever takes it out of the map.
func (h *Hub) remove(s *Subscription) bool {
	set, ok := h.subs[s.engagementID]
	if !ok {
		return false
	}
	if _, ok := set[s.id]; !ok {
		return false
	}
	delete(set, s.id)
	if len(set) == 0 {
		delete(h.subs, s.engagementID)
	}
	close(s.ch)
	observability.FanoutSubscribers.Dec()
	return true
}

// Publish delivers ev to local subscribers. It satisfies domain.Publisher for
// single-instance deployments.
func (h *Hub) Publish(_ context.Context, ev domain.MessageInsertedEvent) error {
	observability.ObserveFanout("published")
	h.Deliver(ev)
	return nil
}

// Deliver pushes ev to every subscriber of its engagement without blocking and
// returns how many received it.
func (h *Hub) Deliver(ev domain.MessageInsertedEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, s := range h.subs[ev.Message.EngagementID] {
		select {
		case s.ch <- ev:
			n++
			observability.ObserveFanout("delivered")
		default:
			s.dropped.Store(true)
			h.remove(s)
			observability.ObserveFanout("dropped")
			h.log.Warn().
				Str("engagement_id", ev.Message.EngagementID).
				Uint64("subscription", s.id).
				Msg("slow subscriber dropped")
		}
	}
	return n
}

func (h *Hub) Subscribers(engagementID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[engagementID])
}

// Close drops every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for _, s := range set {
			s.dropped.Store(true)
			s.shutdown.Store(true)
			h.remove(s)
		}
	}
}
