package tests

import (
	"context"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/hub"
	"dispatch/internal/service"
	"dispatch/internal/store"
)

// These tests run the engine against the real geo index so the whole
// report-search-offer path is exercised without mocks.

func newIntegrationFixture() (*service.MatchingEngine, *service.DriverService) {
	index := geo.NewIndex(5, 30*time.Second)
	engine := service.NewMatchingEngine(
		service.DefaultMatchingPolicy(),
		store.NewStore(),
		index,
		NewMockLimiter(),
		NewMockWallet(),
		hub.NewHub(16, time.Second),
		NewMockLockStore(),
		nil,
	)
	return engine, service.NewDriverService(index)
}

func TestDispatchFlow_ReportedDriverGetsOffered(t *testing.T) {
	ctx := context.Background()
	engine, drivers := newIntegrationFixture()

	if err := drivers.UpdateLocation("driver-1", 10.871, 106.804, 90, 35); err != nil {
		t.Fatalf("report location: %v", err)
	}

	trip, err := engine.CreateTrip(ctx, validRequest())
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if trip.Status != domain.TripStatusOffered {
		t.Fatalf("expected OFFERED, got %s", trip.Status)
	}
}

func TestDispatchFlow_OffDutyDriverNotOffered(t *testing.T) {
	ctx := context.Background()
	engine, drivers := newIntegrationFixture()

	if err := drivers.UpdateLocation("driver-1", 10.871, 106.804, 0, 0); err != nil {
		t.Fatalf("report location: %v", err)
	}
	if err := drivers.SetAvailability("driver-1", false); err != nil {
		t.Fatalf("set availability: %v", err)
	}

	trip, err := engine.CreateTrip(ctx, validRequest())
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if trip.Status != domain.TripStatusRequested {
		t.Fatalf("off-duty driver was offered a trip: %s", trip.Status)
	}
}

func TestDispatchFlow_FarDriverOnlyReachedByWidening(t *testing.T) {
	ctx := context.Background()
	engine, drivers := newIntegrationFixture()

	// ~8km north of the origin: outside the 3km and 6km rings, inside
	// the 12km cap.
	if err := drivers.UpdateLocation("driver-far", 10.942, 106.803, 0, 0); err != nil {
		t.Fatalf("report location: %v", err)
	}

	trip, err := engine.CreateTrip(ctx, validRequest())
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if trip.Status != domain.TripStatusOffered {
		t.Fatalf("expected widened search to reach the driver, got %s", trip.Status)
	}
}

func TestDispatchFlow_SearchEndpointDistances(t *testing.T) {
	_, drivers := newIntegrationFixture()

	if err := drivers.UpdateLocation("driver-1", 10.871, 106.804, 0, 0); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := drivers.UpdateLocation("driver-2", 10.880, 106.812, 0, 0); err != nil {
		t.Fatalf("report: %v", err)
	}

	results, err := drivers.SearchNearby(10.870, 106.803, 5000, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both drivers, got %d", len(results))
	}
	if results[0].DriverID != "driver-1" {
		t.Errorf("expected nearest first, got %s", results[0].DriverID)
	}
	if results[0].DistanceMeters <= 0 || results[1].DistanceMeters <= results[0].DistanceMeters {
		t.Errorf("distances not populated ascending: %f, %f",
			results[0].DistanceMeters, results[1].DistanceMeters)
	}
}
