package store

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
)

var (
	// ErrNotFound is returned when a trip does not exist.
	ErrNotFound = errors.New("trip not found")

	// ErrAlreadyExists is returned when creating a trip with a taken ID.
	ErrAlreadyExists = errors.New("trip already exists")

	// ErrInvalidTransition is returned when a requested state change is
	// not permitted from the trip's current state. Callers racing on the
	// same trip observe this as the conflict outcome: the first
	// committed transition wins.
	ErrInvalidTransition = errors.New("conflicting trip transition")

	// ErrDriverMismatch is returned when a driver-scoped transition is
	// attempted by a driver other than the assigned one.
	ErrDriverMismatch = errors.New("driver not assigned to this trip")
)

const shardCount = 32

// record pairs a trip with its own mutex so transitions on distinct
// trips never contend.
type record struct {
	mu   sync.Mutex
	trip *domain.Trip
}

type shard struct {
	mu    sync.RWMutex
	trips map[string]*record
}

// Store is the authoritative in-memory trip table, sharded by trip ID.
type Store struct {
	shards [shardCount]shard
}

// NewStore creates an empty trip store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].trips = make(map[string]*record)
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%shardCount]
}

// Create persists a new trip. The store owns the record from here on;
// callers must not mutate the passed trip afterwards.
func (s *Store) Create(trip *domain.Trip) error {
	if trip == nil || trip.ID == "" {
		return errors.New("trip id required")
	}
	sh := s.shardFor(trip.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.trips[trip.ID]; ok {
		return ErrAlreadyExists
	}
	sh.trips[trip.ID] = &record{trip: trip}
	return nil
}

// Get returns a snapshot of the trip.
func (s *Store) Get(id string) (*domain.Trip, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.trip.Snapshot(), nil
}

func (s *Store) record(id string) (*record, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	rec, ok := sh.trips[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// TransitionRequest describes one requested state change.
type TransitionRequest struct {
	To domain.TripStatus

	// DriverID is assigned to the trip when transitioning to ACCEPTED.
	DriverID string

	// ExpectedDriver, when set, requires the trip to already be
	// assigned to this driver (driver-scoped transitions).
	ExpectedDriver string

	Reason string
	At     time.Time
}

// Transition atomically applies a state change under the trip's lock.
// Exactly one of several racing callers commits; the rest receive
// ErrInvalidTransition (or ErrDriverMismatch). On success it returns a
// snapshot of the updated trip and the committed transition record.
func (s *Store) Transition(id string, req TransitionRequest) (*domain.Trip, domain.Transition, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, domain.Transition{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	trip := rec.trip
	if !domain.CanTransition(trip.Status, req.To) {
		return nil, domain.Transition{}, ErrInvalidTransition
	}
	if req.ExpectedDriver != "" && trip.AssignedDriverID != req.ExpectedDriver {
		return nil, domain.Transition{}, ErrDriverMismatch
	}
	if req.To == domain.TripStatusAccepted {
		if req.DriverID == "" {
			return nil, domain.Transition{}, errors.New("driver id required for acceptance")
		}
		if trip.AssignedDriverID != "" {
			return nil, domain.Transition{}, ErrInvalidTransition
		}
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tr := domain.Transition{
		From:     trip.Status,
		To:       req.To,
		DriverID: req.DriverID,
		Reason:   req.Reason,
		At:       at,
	}

	trip.Status = req.To
	trip.UpdatedAt = at
	if req.To == domain.TripStatusAccepted {
		trip.AssignedDriverID = req.DriverID
	}
	if req.Reason != "" {
		trip.CancelReason = req.Reason
	}
	trip.History = append(trip.History, tr)

	return trip.Snapshot(), tr, nil
}

// RecordSearchAttempt bumps the widening-search counter under the trip
// lock and returns the new count.
func (s *Store) RecordSearchAttempt(id string) (int, error) {
	rec, err := s.record(id)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.trip.SearchAttempts++
	return rec.trip.SearchAttempts, nil
}

// List returns up to limit trips, newest first.
func (s *Store) List(limit int) []*domain.Trip {
	if limit <= 0 {
		limit = 20
	}
	all := s.collect(func(t *domain.Trip) bool { return true })
	sort.Slice(all, func(a, b int) bool {
		return all[a].CreatedAt.After(all[b].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// InState returns snapshots of every trip currently in the given state,
// oldest first. Used by the background rematcher.
func (s *Store) InState(status domain.TripStatus) []*domain.Trip {
	matches := s.collect(func(t *domain.Trip) bool { return t.Status == status })
	sort.Slice(matches, func(a, b int) bool {
		return matches[a].CreatedAt.Before(matches[b].CreatedAt)
	})
	return matches
}

func (s *Store) collect(keep func(*domain.Trip) bool) []*domain.Trip {
	var out []*domain.Trip
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		recs := make([]*record, 0, len(sh.trips))
		for _, rec := range sh.trips {
			recs = append(recs, rec)
		}
		sh.mu.RUnlock()

		for _, rec := range recs {
			rec.mu.Lock()
			if keep(rec.trip) {
				out = append(out, rec.trip.Snapshot())
			}
			rec.mu.Unlock()
		}
	}
	return out
}
