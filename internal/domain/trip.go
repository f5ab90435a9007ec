package domain

import "time"

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusRequested TripStatus = "REQUESTED"
	TripStatusOffered   TripStatus = "OFFERED"
	TripStatusAccepted  TripStatus = "ACCEPTED"
	TripStatusOngoing   TripStatus = "ONGOING"
	TripStatusCompleted TripStatus = "COMPLETED"
	TripStatusCancelled TripStatus = "CANCELLED"
	TripStatusRejected  TripStatus = "REJECTED_INSUFFICIENT_BALANCE"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TripStatus) IsTerminal() bool {
	switch s {
	case TripStatusCompleted, TripStatusCancelled, TripStatusRejected:
		return true
	}
	return false
}

// IsValid reports whether s is a known trip status.
func (s TripStatus) IsValid() bool {
	switch s {
	case TripStatusRequested, TripStatusOffered, TripStatusAccepted,
		TripStatusOngoing, TripStatusCompleted, TripStatusCancelled,
		TripStatusRejected:
		return true
	}
	return false
}

// allowedTransitions encodes the trip state machine edges.
// CANCELLED is reachable from any non-terminal state.
var allowedTransitions = map[TripStatus][]TripStatus{
	TripStatusRequested: {TripStatusOffered, TripStatusRejected, TripStatusCancelled},
	TripStatusOffered:   {TripStatusAccepted, TripStatusCancelled},
	TripStatusAccepted:  {TripStatusOngoing, TripStatusCancelled},
	TripStatusOngoing:   {TripStatusCompleted, TripStatusCancelled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to TripStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one committed state change, retained for audit.
type Transition struct {
	From     TripStatus
	To       TripStatus
	DriverID string
	Reason   string
	At       time.Time
}

// Trip represents a rider's transportation request and its lifecycle state.
type Trip struct {
	ID               string
	RiderID          string
	OriginText       string
	DestText         string
	OriginLat        float64
	OriginLng        float64
	DestLat          float64
	DestLng          float64
	ServiceClass     string
	Status           TripStatus
	AssignedDriverID string
	FareEstimate     int64
	DebitKey         string
	SearchAttempts   int
	CancelReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// History holds every committed transition in commit order.
	History []Transition
}

// Snapshot returns a shallow copy safe to hand to callers. The history
// slice is copied so readers never observe an in-flight append.
func (t *Trip) Snapshot() *Trip {
	cp := *t
	cp.History = make([]Transition, len(t.History))
	copy(cp.History, t.History)
	return &cp
}
