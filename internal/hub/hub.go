package hub

import (
	"sync"
	"time"

	"dispatch/internal/domain"
)

// EventType labels trip events pushed to subscribers.
type EventType string

const (
	// EventSnapshot is the synthetic initial event replaying the trip's
	// current state to a new subscriber.
	EventSnapshot EventType = "snapshot"

	// EventStatus is a committed trip state change.
	EventStatus EventType = "status"

	// EventResync replaces dropped events for a slow consumer and
	// carries the latest known state.
	EventResync EventType = "resync"
)

// Event is one entry in a subscriber's ordered stream. Seq is strictly
// increasing per trip; Timestamp is the event-generation time so that
// receipt-minus-timestamp is a meaningful delivery latency.
type Event struct {
	Type      EventType         `json:"type"`
	TripID    string            `json:"tripId"`
	Status    domain.TripStatus `json:"status"`
	DriverID  string            `json:"driverId,omitempty"`
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
}

// Subscription is one live subscriber bound to a single trip.
type Subscription struct {
	events chan Event
	trip   *tripHub
}

// Events returns the subscriber's ordered event stream. The channel is
// closed when the subscriber is dropped or the trip hub shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// tripHub fans events out to every subscriber of one trip. The mutex
// makes publishes single-writer per trip, which is what keeps sequence
// numbers gapless and per-subscriber queues single-producer.
type tripHub struct {
	tripID string

	mu     sync.Mutex
	seq    uint64
	last   Event
	subs   map[*Subscription]struct{}
	closed bool
}

// Hub delivers per-trip ordered events to live subscribers. Publishers
// never block on a slow consumer: a full subscriber queue is drained
// and replaced with a single resync marker.
type Hub struct {
	queueSize int
	grace     time.Duration

	mu    sync.RWMutex
	trips map[string]*tripHub
}

// NewHub creates a Hub. queueSize bounds each subscriber's buffer;
// grace is how long subscriptions stay open after a terminal event so
// final deliveries can drain.
func NewHub(queueSize int, grace time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = 16
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Hub{
		queueSize: queueSize,
		grace:     grace,
		trips:     make(map[string]*tripHub),
	}
}

func (h *Hub) get(tripID string) *tripHub {
	h.mu.RLock()
	th, ok := h.trips[tripID]
	h.mu.RUnlock()
	if ok {
		return th
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if th, ok = h.trips[tripID]; ok {
		return th
	}
	th = &tripHub{
		tripID: tripID,
		subs:   make(map[*Subscription]struct{}),
	}
	h.trips[tripID] = th
	return th
}

// Publish appends a status event to every live subscription for the
// trip, stamped with the next sequence number. Terminal statuses
// schedule the trip hub for closure after the grace period.
func (h *Hub) Publish(tripID string, status domain.TripStatus, driverID string, at time.Time) Event {
	th := h.get(tripID)

	th.mu.Lock()
	th.seq++
	evt := Event{
		Type:      EventStatus,
		TripID:    tripID,
		Status:    status,
		DriverID:  driverID,
		Seq:       th.seq,
		Timestamp: at,
	}
	th.last = evt
	if !th.closed {
		for sub := range th.subs {
			th.deliver(sub, evt)
		}
	}
	th.mu.Unlock()

	if status.IsTerminal() {
		time.AfterFunc(h.grace, func() { h.closeTrip(tripID, th) })
	}
	return evt
}

// deliver enqueues without ever blocking. Caller holds th.mu, so this
// is the only goroutine sending on sub.events: on overflow it drains
// the whole queue and leaves one resync marker with the latest state.
func (th *tripHub) deliver(sub *Subscription, evt Event) {
	select {
	case sub.events <- evt:
		return
	default:
	}

	for {
		select {
		case <-sub.events:
			continue
		default:
		}
		break
	}

	resync := th.last
	resync.Type = EventResync
	sub.events <- resync
}

// Subscribe registers a live subscription for the trip. The returned
// stream starts with a synthetic snapshot at the current sequence
// number, so late subscribers observe no gap. Once the hub has seen a
// publish for the trip, its own record wins over the caller-supplied
// state: the caller's read may predate an event published before the
// subscription landed, and stamping it with the current sequence would
// hide that event forever. If the trip is already terminal and the hub
// has shut down (or never saw it), the snapshot is delivered and the
// stream is closed immediately.
func (h *Hub) Subscribe(tripID string, status domain.TripStatus, driverID string) *Subscription {
	th := h.get(tripID)

	th.mu.Lock()
	sub := &Subscription{
		events: make(chan Event, h.queueSize),
		trip:   th,
	}
	snapshot := Event{
		Type:      EventSnapshot,
		TripID:    tripID,
		Status:    status,
		DriverID:  driverID,
		Seq:       th.seq,
		Timestamp: time.Now().UTC(),
	}
	if th.seq > 0 {
		snapshot.Status = th.last.Status
		snapshot.DriverID = th.last.DriverID
	}
	sub.events <- snapshot

	// A fresh hub (no publishes, no subscribers) for an already-terminal
	// trip is a post-teardown recreate: closing here keeps those streams
	// from idling open forever. A hub with live seq-0 subscribers stays
	// up, since their terminal publish is still in flight.
	dead := th.closed || (th.seq == 0 && len(th.subs) == 0 && status.IsTerminal())
	if dead {
		th.closed = true
		close(sub.events)
	} else {
		th.subs[sub] = struct{}{}
	}
	th.mu.Unlock()

	if dead {
		h.remove(tripID, th)
	}
	return sub
}

// Unsubscribe drops a subscription (client disconnect).
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.trip == nil {
		return
	}
	th := sub.trip
	th.mu.Lock()
	defer th.mu.Unlock()
	if _, ok := th.subs[sub]; ok {
		delete(th.subs, sub)
		close(sub.events)
	}
}

// remove drops the trip hub from the directory if it is still the
// registered one.
func (h *Hub) remove(tripID string, th *tripHub) {
	h.mu.Lock()
	if h.trips[tripID] == th {
		delete(h.trips, tripID)
	}
	h.mu.Unlock()
}

// closeTrip shuts the trip hub down after the terminal grace period.
func (h *Hub) closeTrip(tripID string, th *tripHub) {
	h.remove(tripID, th)

	th.mu.Lock()
	defer th.mu.Unlock()
	if th.closed {
		return
	}
	th.closed = true
	for sub := range th.subs {
		delete(th.subs, sub)
		close(sub.events)
	}
}
