package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/hub"
	"dispatch/internal/ratelimit"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/store"
	"dispatch/internal/wallet"
)

// GeoSearcher is the candidate lookup the matching engine performs
// around a trip origin.
type GeoSearcher interface {
	Search(lat, lng, radiusMeters float64, limit int, now time.Time) ([]geo.DriverLocation, error)
}

// AdmissionController gates trip creation per rider before any
// downstream work happens.
type AdmissionController interface {
	TryAcquire(identity string, now time.Time) bool
}

// Ensure the concrete implementations satisfy the engine's interfaces.
var (
	_ GeoSearcher         = (*geo.Index)(nil)
	_ AdmissionController = (*ratelimit.Limiter)(nil)
)

// MatchingPolicy tunes candidate search and retry behaviour.
type MatchingPolicy struct {
	InitialRadiusMeters float64
	MaxRadiusMeters     float64
	RadiusMultiplier    float64
	CandidateLimit      int

	// MaxSearchAttempts bounds how often a REQUESTED trip is retried
	// (the attempt at creation included) before it expires.
	MaxSearchAttempts int
	RematchInterval   time.Duration

	OfferLockTTL time.Duration

	// FareEstimates maps service class to the fare debited at creation.
	FareEstimates map[string]int64
	DefaultFare   int64
}

// DefaultMatchingPolicy returns the baseline policy.
func DefaultMatchingPolicy() MatchingPolicy {
	return MatchingPolicy{
		InitialRadiusMeters: 3000,
		MaxRadiusMeters:     12000,
		RadiusMultiplier:    2,
		CandidateLimit:      10,
		MaxSearchAttempts:   5,
		RematchInterval:     2 * time.Second,
		OfferLockTTL:        10 * time.Second,
		FareEstimates: map[string]int64{
			"bike":    15000,
			"economy": 25000,
			"premium": 40000,
		},
		DefaultFare: 25000,
	}
}

func (p MatchingPolicy) fareFor(serviceClass string) (int64, bool) {
	if fare, ok := p.FareEstimates[serviceClass]; ok {
		return fare, true
	}
	if p.DefaultFare > 0 {
		return p.DefaultFare, false
	}
	return 0, false
}

// MatchingEngine orchestrates trip creation and the trip state machine:
// admission check, wallet debit, candidate search with a bounded radius
// ladder, and event publication on every committed transition.
type MatchingEngine struct {
	policy    MatchingPolicy
	trips     *store.Store
	searcher  GeoSearcher
	limiter   AdmissionController
	wallets   wallet.Service
	events    *hub.Hub
	lockStore redis.LockStoreInterface   // optional
	audit     repository.AuditRepository // optional
}

// NewMatchingEngine creates a MatchingEngine. lockStore and audit may
// be nil; the engine degrades to in-process-only coordination.
func NewMatchingEngine(
	policy MatchingPolicy,
	trips *store.Store,
	searcher GeoSearcher,
	limiter AdmissionController,
	wallets wallet.Service,
	events *hub.Hub,
	lockStore redis.LockStoreInterface,
	audit repository.AuditRepository,
) *MatchingEngine {
	return &MatchingEngine{
		policy:    policy,
		trips:     trips,
		searcher:  searcher,
		limiter:   limiter,
		wallets:   wallets,
		events:    events,
		lockStore: lockStore,
		audit:     audit,
	}
}

// CreateTripRequest contains the parameters for creating a trip.
type CreateTripRequest struct {
	RiderID      string
	OriginText   string
	DestText     string
	OriginLat    float64
	OriginLng    float64
	DestLat      float64
	DestLng      float64
	ServiceClass string
}

// CreateTrip runs the full creation flow. The admission check comes
// first so a rate-limited rider causes no wallet or geo traffic; the
// wallet check precedes any driver search so an underfunded rider never
// learns about driver supply. On success the returned trip is OFFERED,
// or still REQUESTED when no candidate was found (the rematcher keeps
// retrying those). Insufficient balance records the trip in its
// terminal rejected state and returns wallet.ErrInsufficientBalance.
func (e *MatchingEngine) CreateTrip(ctx context.Context, req CreateTripRequest) (*domain.Trip, error) {
	if err := e.validateCreateRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !e.limiter.TryAcquire(req.RiderID, now) {
		return nil, ErrAdmissionRejected
	}

	fare, _ := e.policy.fareFor(req.ServiceClass)

	if err := e.wallets.CheckBalance(ctx, req.RiderID, req.ServiceClass); err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return e.recordRejectedTrip(req, now)
		}
		return nil, err
	}

	// Debit and persistence form one unit: the debit carries an
	// idempotency key, and a persist failure compensates with a refund.
	debitKey := uuid.New().String()
	if err := e.wallets.Debit(ctx, req.RiderID, fare, debitKey); err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return e.recordRejectedTrip(req, now)
		}
		return nil, err
	}

	trip := e.newTrip(req, now)
	trip.FareEstimate = fare
	trip.DebitKey = debitKey

	if err := e.trips.Create(trip); err != nil {
		if refundErr := e.wallets.Refund(ctx, req.RiderID, fare, debitKey); refundErr != nil {
			log.Printf("compensating refund failed for rider %s: %v", req.RiderID, refundErr)
		}
		return nil, err
	}

	if offered, err := e.tryOffer(ctx, trip.ID, trip.OriginLat, trip.OriginLng); err != nil {
		log.Printf("initial offer search for trip %s: %v", trip.ID, err)
	} else if !offered {
		// No candidate after the widened search: the trip stays
		// REQUESTED and the background rematcher picks it up.
		return e.trips.Get(trip.ID)
	}

	return e.trips.Get(trip.ID)
}

func (e *MatchingEngine) validateCreateRequest(req CreateTripRequest) error {
	if req.RiderID == "" {
		return ErrInvalidRiderID
	}
	if req.OriginText == "" || req.DestText == "" || req.ServiceClass == "" {
		return ErrInvalidTripRequest
	}
	if !validLatitude(req.OriginLat) || !validLongitude(req.OriginLng) ||
		!validLatitude(req.DestLat) || !validLongitude(req.DestLng) {
		return ErrInvalidLocation
	}
	return nil
}

func (e *MatchingEngine) newTrip(req CreateTripRequest, now time.Time) *domain.Trip {
	return &domain.Trip{
		ID:           uuid.New().String(),
		RiderID:      req.RiderID,
		OriginText:   req.OriginText,
		DestText:     req.DestText,
		OriginLat:    req.OriginLat,
		OriginLng:    req.OriginLng,
		DestLat:      req.DestLat,
		DestLng:      req.DestLng,
		ServiceClass: req.ServiceClass,
		Status:       domain.TripStatusRequested,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// recordRejectedTrip persists the trip straight into its terminal
// rejected state so the outcome is auditable, then surfaces the
// balance error to the caller.
func (e *MatchingEngine) recordRejectedTrip(req CreateTripRequest, now time.Time) (*domain.Trip, error) {
	trip := e.newTrip(req, now)
	if err := e.trips.Create(trip); err != nil {
		return nil, err
	}
	snapshot, tr, err := e.trips.Transition(trip.ID, store.TransitionRequest{
		To:     domain.TripStatusRejected,
		Reason: "insufficient balance",
		At:     now,
	})
	if err != nil {
		return nil, err
	}
	e.publishTransition(snapshot.ID, tr)
	return snapshot, wallet.ErrInsufficientBalance
}

// tryOffer searches for candidates around the origin, widening the
// radius along the policy ladder, and transitions the trip to OFFERED
// on the first eligible driver. Returns false when the whole ladder
// came up empty.
func (e *MatchingEngine) tryOffer(ctx context.Context, tripID string, lat, lng float64) (bool, error) {
	if _, err := e.trips.RecordSearchAttempt(tripID); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	radius := e.policy.InitialRadiusMeters
	for {
		candidates, err := e.searcher.Search(lat, lng, radius, e.policy.CandidateLimit, now)
		if err != nil {
			return false, err
		}

		for _, candidate := range candidates {
			if !e.lockDriver(ctx, candidate.DriverID) {
				continue
			}

			snapshot, tr, err := e.trips.Transition(tripID, store.TransitionRequest{
				To:       domain.TripStatusOffered,
				DriverID: "",
				Reason:   "",
				At:       now,
			})
			if err != nil {
				e.unlockDriver(ctx, candidate.DriverID)
				if errors.Is(err, store.ErrInvalidTransition) {
					// Someone else moved the trip (cancel or a
					// concurrent offer); nothing left to do here.
					return true, nil
				}
				return false, err
			}

			e.publishOffer(snapshot.ID, tr, candidate.DriverID)
			return true, nil
		}

		if radius >= e.policy.MaxRadiusMeters {
			return false, nil
		}
		radius *= e.policy.RadiusMultiplier
		if radius > e.policy.MaxRadiusMeters {
			radius = e.policy.MaxRadiusMeters
		}
	}
}

// lockDriver takes the short-lived offer lock for a driver. Without a
// lock store every driver is considered free.
func (e *MatchingEngine) lockDriver(ctx context.Context, driverID string) bool {
	if e.lockStore == nil {
		return true
	}
	locked, err := e.lockStore.AcquireDriverLock(ctx, driverID, e.policy.OfferLockTTL)
	if err != nil {
		log.Printf("acquire offer lock for driver %s: %v", driverID, err)
		return false
	}
	return locked
}

func (e *MatchingEngine) unlockDriver(ctx context.Context, driverID string) {
	if e.lockStore == nil {
		return
	}
	_ = e.lockStore.ReleaseDriverLock(ctx, driverID)
}

// AcceptTrip resolves a driver's acceptance of an offered trip.
// Concurrent acceptances CAS on the trip record: exactly one driver
// wins, the rest receive ErrTripAlreadyTaken.
func (e *MatchingEngine) AcceptTrip(ctx context.Context, tripID, driverID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	if !e.lockDriver(ctx, driverID) {
		return nil, ErrDriverBusy
	}

	snapshot, tr, err := e.trips.Transition(tripID, store.TransitionRequest{
		To:       domain.TripStatusAccepted,
		DriverID: driverID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		e.unlockDriver(ctx, driverID)
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, ErrTripAlreadyTaken
		}
		return nil, err
	}

	// Winner keeps the lock until its TTL expires.
	e.publishTransition(snapshot.ID, tr)
	return snapshot, nil
}

// CancelTrip cancels a non-terminal trip on behalf of the rider. A
// cancel racing a concurrent acceptance commits or loses atomically:
// whichever transition lands first wins, and the loser sees a conflict.
// Fares debited for trips cancelled before the ride started are
// refunded.
func (e *MatchingEngine) CancelTrip(ctx context.Context, tripID, reason string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if reason == "" {
		reason = "cancelled by rider"
	}

	snapshot, tr, err := e.trips.Transition(tripID, store.TransitionRequest{
		To:     domain.TripStatusCancelled,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	e.refundIfUnserved(ctx, snapshot, tr)
	e.publishTransition(snapshot.ID, tr)
	return snapshot, nil
}

// UpdateTripStatus applies a driver-side progress transition: the
// assigned driver moves the trip to ONGOING and later to COMPLETED.
func (e *MatchingEngine) UpdateTripStatus(ctx context.Context, tripID, driverID string, to domain.TripStatus) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if to != domain.TripStatusOngoing && to != domain.TripStatusCompleted {
		return nil, ErrInvalidStatus
	}

	snapshot, tr, err := e.trips.Transition(tripID, store.TransitionRequest{
		To:             to,
		ExpectedDriver: driverID,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	e.publishTransition(snapshot.ID, tr)
	return snapshot, nil
}

// GetTrip returns a snapshot of one trip.
func (e *MatchingEngine) GetTrip(tripID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	return e.trips.Get(tripID)
}

// ListTrips returns up to limit trips, newest first.
func (e *MatchingEngine) ListTrips(limit int) []*domain.Trip {
	return e.trips.List(limit)
}

// TripTransitions returns the trip's committed transition history. The
// audit archive is preferred when configured; the in-memory record is
// the fallback, covering trips the write-behind archiver has not
// flushed yet.
func (e *MatchingEngine) TripTransitions(ctx context.Context, tripID string) ([]domain.Transition, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if e.audit != nil {
		history, err := e.audit.Transitions(ctx, tripID)
		if err == nil {
			return history, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("read archived transitions for trip %s: %v", tripID, err)
		}
	}
	trip, err := e.trips.Get(tripID)
	if err != nil {
		return nil, err
	}
	return trip.History, nil
}

// refundIfUnserved compensates the creation debit when a trip is
// cancelled before any ride happened.
func (e *MatchingEngine) refundIfUnserved(ctx context.Context, trip *domain.Trip, tr domain.Transition) {
	if trip.DebitKey == "" {
		return
	}
	switch tr.From {
	case domain.TripStatusRequested, domain.TripStatusOffered, domain.TripStatusAccepted:
		if err := e.wallets.Refund(ctx, trip.RiderID, trip.FareEstimate, trip.DebitKey); err != nil {
			log.Printf("refund for cancelled trip %s: %v", trip.ID, err)
		}
	}
}

// publishOffer emits the OFFERED event tagged with the candidate the
// offer was pushed to.
func (e *MatchingEngine) publishOffer(tripID string, tr domain.Transition, candidateID string) {
	evt := tr
	evt.DriverID = candidateID
	e.publishTransition(tripID, evt)
}

// publishTransition fans the committed transition out to subscribers
// and archives it write-behind.
func (e *MatchingEngine) publishTransition(tripID string, tr domain.Transition) {
	e.events.Publish(tripID, tr.To, tr.DriverID, tr.At)
	e.archiveAsync(tripID, tr)
}

// archiveAsync persists the transition to the audit archive without
// holding up the request path.
func (e *MatchingEngine) archiveAsync(tripID string, tr domain.Transition) {
	if e.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.audit.RecordTransition(ctx, tripID, tr); err != nil {
			log.Printf("archive transition for trip %s: %v", tripID, err)
		}
	}()
}

func validLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func validLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}
