// Package hub fans device events out to live stream subscribers.
package hub

import (
	"sync"
	"time"

	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

const DefaultBufferSize = 16

// Hub keeps the live subscribers of every device. Delivery never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
	logger *logger.Logger
}

// Subscription is one registered listener for a single device
type Subscription struct {
	hub        *Hub
	externalID string
	principal  string
	ch         chan sfmmodels.Event
	once       sync.Once

	mu      sync.Mutex
	dropped int
}

func New(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: log.WithComponent("hub"),
	}
}

// Subscribe registers principal for events of externalID. The first event
// on the channel is a welcome; nothing published earlier is replayed.
// Authorization is the caller's job.
func (h *Hub) Subscribe(externalID, principal string) *Subscription {
	s := &Subscription{
		hub:        h,
		externalID: externalID,
		principal:  principal,
		ch:         make(chan sfmmodels.Event, h.buffer+1),
	}
	s.ch <- sfmmodels.NewWelcomeEvent(externalID, time.Now())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	set, ok := h.subs[externalID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[externalID] = set
	}
	set[s] = struct{}{}
	metrics.AddSubscribers(1)

	h.logger.Logger.Debug().Str("external_id", externalID).Str("principal", principal).Int("subscribers", len(set)).Msg("subscriber added")
	return s
}

// Publish delivers ev to every subscriber of ev.ExternalID
func (h *Hub) Publish(ev sfmmodels.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ev.ExternalID] {
		select {
		case s.ch <- ev:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			metrics.IncHubDropped()
			h.logger.Logger.Debug().Str("external_id", ev.ExternalID).Str("principal", s.principal).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers returns the number of live subscribers for externalID
func (h *Hub) Subscribers(externalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[externalID])
}

// Close removes every subscriber and closes their channels. Later
// subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
			metrics.AddSubscribers(-1)
		}
		delete(h.subs, id)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.externalID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.externalID)
	}
	s.once.Do(func() { close(s.ch) })
	metrics.AddSubscribers(-1)
}

// Events is closed once the subscription ends
func (s *Subscription) Events() <-chan sfmmodels.Event {
	return s.ch
}

func (s *Subscription) ExternalID() string {
	return s.externalID
}

// Dropped returns how many events this subscriber missed
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}
