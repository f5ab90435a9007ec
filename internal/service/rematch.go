package service

import (
	"context"
	"errors"
	"log"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/store"
)

// StartRematcher launches the background loop that retries candidate
// search for trips stuck in REQUESTED. Each trip is retried up to the
// policy's attempt budget, then expired. The loop stops when ctx is
// cancelled.
func (e *MatchingEngine) StartRematcher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.policy.RematchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.rematchPending(ctx)
			}
		}
	}()
}

func (e *MatchingEngine) rematchPending(ctx context.Context) {
	for _, trip := range e.trips.InState(domain.TripStatusRequested) {
		if ctx.Err() != nil {
			return
		}

		if trip.SearchAttempts >= e.policy.MaxSearchAttempts {
			e.expireTrip(ctx, trip.ID)
			continue
		}

		if _, err := e.tryOffer(ctx, trip.ID, trip.OriginLat, trip.OriginLng); err != nil {
			log.Printf("rematch trip %s: %v", trip.ID, err)
		}
	}
}

// expireTrip cancels a trip whose search budget ran out and refunds the
// creation debit.
func (e *MatchingEngine) expireTrip(ctx context.Context, tripID string) {
	snapshot, tr, err := e.trips.Transition(tripID, store.TransitionRequest{
		To:     domain.TripStatusCancelled,
		Reason: "no drivers available",
		At:     time.Now().UTC(),
	})
	if err != nil {
		// Lost a race with a rider cancel or a late offer; both fine.
		if !errors.Is(err, store.ErrInvalidTransition) && !errors.Is(err, store.ErrNotFound) {
			log.Printf("expire trip %s: %v", tripID, err)
		}
		return
	}

	e.refundIfUnserved(ctx, snapshot, tr)
	e.publishTransition(snapshot.ID, tr)
}
