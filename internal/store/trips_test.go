package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dispatch/internal/domain"
)

func newTestTrip(id string) *domain.Trip {
	now := time.Now().UTC()
	return &domain.Trip{
		ID:        id,
		RiderID:   "rider-1",
		Status:    domain.TripStatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore()

	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(newTestTrip("trip-1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	trip, err := s.Get("trip-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if trip.Status != domain.TripStatusRequested {
		t.Errorf("expected REQUESTED, got %s", trip.Status)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetReturnsSnapshot(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	snap, _ := s.Get("trip-1")
	snap.Status = domain.TripStatusCancelled

	fresh, _ := s.Get("trip-1")
	if fresh.Status != domain.TripStatusRequested {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestStore_TransitionLifecycle(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []TransitionRequest{
		{To: domain.TripStatusOffered},
		{To: domain.TripStatusAccepted, DriverID: "driver-1"},
		{To: domain.TripStatusOngoing, ExpectedDriver: "driver-1"},
		{To: domain.TripStatusCompleted, ExpectedDriver: "driver-1"},
	}
	for _, req := range steps {
		if _, _, err := s.Transition("trip-1", req); err != nil {
			t.Fatalf("transition to %s: %v", req.To, err)
		}
	}

	trip, _ := s.Get("trip-1")
	if trip.Status != domain.TripStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", trip.Status)
	}
	if trip.AssignedDriverID != "driver-1" {
		t.Errorf("expected assigned driver, got %q", trip.AssignedDriverID)
	}
	if len(trip.History) != 4 {
		t.Errorf("expected 4 history entries, got %d", len(trip.History))
	}

	// Terminal state admits nothing further.
	if _, _, err := s.Transition("trip-1", TransitionRequest{To: domain.TripStatusCancelled}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestStore_IllegalTransitionRejected(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// REQUESTED cannot jump straight to ONGOING.
	if _, _, err := s.Transition("trip-1", TransitionRequest{To: domain.TripStatusOngoing}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	trip, _ := s.Get("trip-1")
	if trip.Status != domain.TripStatusRequested {
		t.Fatalf("failed transition mutated the trip: %s", trip.Status)
	}
	if len(trip.History) != 0 {
		t.Fatalf("failed transition appended history")
	}
}

func TestStore_DriverMismatchRejected(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Transition("trip-1", TransitionRequest{To: domain.TripStatusOffered})
	s.Transition("trip-1", TransitionRequest{To: domain.TripStatusAccepted, DriverID: "driver-1"})

	_, _, err := s.Transition("trip-1", TransitionRequest{
		To:             domain.TripStatusOngoing,
		ExpectedDriver: "driver-2",
	})
	if !errors.Is(err, ErrDriverMismatch) {
		t.Fatalf("expected ErrDriverMismatch, got %v", err)
	}
}

func TestStore_ConcurrentAcceptSingleWinner(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.Transition("trip-1", TransitionRequest{To: domain.TripStatusOffered}); err != nil {
		t.Fatalf("offer: %v", err)
	}

	const drivers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := make([]string, 0, 1)

	for n := 0; n < drivers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			driverID := fmt.Sprintf("driver-%02d", n)
			_, _, err := s.Transition("trip-1", TransitionRequest{
				To:       domain.TripStatusAccepted,
				DriverID: driverID,
			})
			if err == nil {
				mu.Lock()
				winners = append(winners, driverID)
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected accept error: %v", err)
			}
		}(n)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	trip, _ := s.Get("trip-1")
	if trip.AssignedDriverID != winners[0] {
		t.Fatalf("assigned driver %q does not match winner %q", trip.AssignedDriverID, winners[0])
	}
	if trip.Status != domain.TripStatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", trip.Status)
	}
}

func TestStore_CancelVersusAcceptRace(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.Transition("trip-1", TransitionRequest{To: domain.TripStatusOffered})

	var wg sync.WaitGroup
	outcomes := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, err := s.Transition("trip-1", TransitionRequest{To: domain.TripStatusAccepted, DriverID: "driver-1"})
		outcomes <- err
	}()
	go func() {
		defer wg.Done()
		_, _, err := s.Transition("trip-1", TransitionRequest{To: domain.TripStatusCancelled, Reason: "rider cancelled"})
		outcomes <- err
	}()
	wg.Wait()
	close(outcomes)

	var failures int
	for err := range outcomes {
		if err != nil {
			failures++
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("loser saw unexpected error: %v", err)
			}
		}
	}

	// Whichever order the two land in, the trip ends CANCELLED: either
	// cancel won from OFFERED and accept saw a conflict, or accept won
	// and the cancel then committed from ACCEPTED.
	trip, _ := s.Get("trip-1")
	if trip.Status != domain.TripStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", trip.Status)
	}
	if trip.AssignedDriverID != "" {
		if failures != 0 || len(trip.History) != 3 {
			t.Fatalf("accept-then-cancel path inconsistent: failures=%d history=%d", failures, len(trip.History))
		}
	} else {
		if failures != 1 || len(trip.History) != 2 {
			t.Fatalf("cancel-first path inconsistent: failures=%d history=%d", failures, len(trip.History))
		}
	}
}

func TestStore_RecordSearchAttempt(t *testing.T) {
	s := NewStore()
	if err := s.Create(newTestTrip("trip-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.RecordSearchAttempt("trip-1")
		if err != nil {
			t.Fatalf("record attempt: %v", err)
		}
		if got != want {
			t.Fatalf("expected attempt count %d, got %d", want, got)
		}
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := NewStore()
	base := time.Now().UTC()
	for n := 0; n < 5; n++ {
		trip := newTestTrip(fmt.Sprintf("trip-%d", n))
		trip.CreatedAt = base.Add(time.Duration(n) * time.Second)
		if err := s.Create(trip); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	trips := s.List(3)
	if len(trips) != 3 {
		t.Fatalf("expected 3 trips, got %d", len(trips))
	}
	if trips[0].ID != "trip-4" {
		t.Errorf("expected newest trip first, got %s", trips[0].ID)
	}
	for n := 1; n < len(trips); n++ {
		if trips[n].CreatedAt.After(trips[n-1].CreatedAt) {
			t.Fatalf("list not sorted newest first")
		}
	}
}

func TestStore_InState(t *testing.T) {
	s := NewStore()
	for n := 0; n < 4; n++ {
		if err := s.Create(newTestTrip(fmt.Sprintf("trip-%d", n))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	s.Transition("trip-0", TransitionRequest{To: domain.TripStatusOffered})
	s.Transition("trip-2", TransitionRequest{To: domain.TripStatusCancelled})

	requested := s.InState(domain.TripStatusRequested)
	if len(requested) != 2 {
		t.Fatalf("expected 2 REQUESTED trips, got %d", len(requested))
	}
	for _, trip := range requested {
		if trip.ID != "trip-1" && trip.ID != "trip-3" {
			t.Errorf("unexpected trip in REQUESTED set: %s", trip.ID)
		}
	}
}
