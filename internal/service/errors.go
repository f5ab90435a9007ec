package service

import "errors"

var (
	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidLocation is returned when coordinates are malformed.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidTripRequest is returned when origin, destination or
	// service class are missing from a trip request.
	ErrInvalidTripRequest = errors.New("invalid trip request")

	// ErrAdmissionRejected is returned when the rider's rate-limit
	// bucket is exhausted. No trip record is created.
	ErrAdmissionRejected = errors.New("trip request rate limit exceeded")

	// ErrNoDriverAvailable is returned when the widened search found no
	// eligible candidate.
	ErrNoDriverAvailable = errors.New("no driver available")

	// ErrTripAlreadyTaken is returned to a driver who lost the
	// acceptance race on an offered trip.
	ErrTripAlreadyTaken = errors.New("trip already taken")

	// ErrDriverBusy is returned when a driver holding an active offer
	// lock attempts to take another trip.
	ErrDriverBusy = errors.New("driver busy with another trip")

	// ErrInvalidStatus is returned for an unknown or disallowed target
	// status in a driver status update.
	ErrInvalidStatus = errors.New("invalid trip status")
)
