package service

import (
	"errors"
	"time"

	"dispatch/internal/geo"
)

// DriverService handles driver presence: location reports, duty status
// and nearby search.
type DriverService struct {
	index *geo.Index
}

// NewDriverService creates a new DriverService.
func NewDriverService(index *geo.Index) *DriverService {
	return &DriverService{index: index}
}

// UpdateLocation records a driver's location report.
func (s *DriverService) UpdateLocation(driverID string, lat, lng, headingDeg, speedKph float64) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if err := s.index.Upsert(driverID, lat, lng, headingDeg, speedKph, time.Now().UTC()); err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinate) {
			return ErrInvalidLocation
		}
		return err
	}
	return nil
}

// SetAvailability marks a driver searchable or not.
func (s *DriverService) SetAvailability(driverID string, available bool) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	s.index.SetOnDuty(driverID, available)
	return nil
}

// Deregister removes a driver from the index entirely.
func (s *DriverService) Deregister(driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	s.index.Remove(driverID)
	return nil
}

// SearchNearby returns drivers within radiusMeters of the point, closest
// first. An empty result is a valid outcome, not an error.
func (s *DriverService) SearchNearby(lat, lng, radiusMeters float64, limit int) ([]geo.DriverLocation, error) {
	locations, err := s.index.Search(lat, lng, radiusMeters, limit, time.Now().UTC())
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinate) || errors.Is(err, geo.ErrInvalidRadius) {
			return nil, ErrInvalidLocation
		}
		return nil, err
	}
	return locations, nil
}
