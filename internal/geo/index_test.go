package geo

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestIndex_SearchReturnsClosestFirst(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	// Three drivers around central Ho Chi Minh City, at increasing
	// distance from the search point.
	if err := idx.Upsert("driver-near", 10.870, 106.803, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert("driver-mid", 10.875, 106.810, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert("driver-far", 10.900, 106.850, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := idx.Search(10.869, 106.803, 3000, 10, now)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 drivers within 3km, got %d", len(results))
	}
	if results[0].DriverID != "driver-near" {
		t.Errorf("expected driver-near first, got %s", results[0].DriverID)
	}
	if results[1].DriverID != "driver-mid" {
		t.Errorf("expected driver-mid second, got %s", results[1].DriverID)
	}
	if results[0].DistanceMeters > results[1].DistanceMeters {
		t.Errorf("results not sorted by distance: %f > %f",
			results[0].DistanceMeters, results[1].DistanceMeters)
	}
}

func TestIndex_StaleDriversExcluded(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	if err := idx.Upsert("driver-fresh", 10.870, 106.803, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert("driver-stale", 10.871, 106.804, 0, 0, now.Add(-45*time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := idx.Search(10.869, 106.803, 3000, 10, now)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected only the fresh driver, got %d results", len(results))
	}
	if results[0].DriverID != "driver-fresh" {
		t.Errorf("expected driver-fresh, got %s", results[0].DriverID)
	}
}

func TestIndex_LastWriteWins(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	if err := idx.Upsert("driver-1", 10.870, 106.803, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Late arrival of an older report must not clobber the newer one.
	if err := idx.Upsert("driver-1", 10.900, 106.850, 0, 0, now.Add(-10*time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := idx.Search(10.869, 106.803, 1000, 10, now)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Lat != 10.870 {
		t.Errorf("stale write overwrote newer position: lat=%f", results[0].Lat)
	}
}

func TestIndex_CellMoveLeavesSingleEntry(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	// Two positions far enough apart to land in different cells.
	if err := idx.Upsert("driver-1", 10.870, 106.803, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert("driver-1", 10.950, 106.900, 0, 0, now.Add(time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Searching around the old position must not find the driver there.
	results, err := idx.Search(10.869, 106.803, 2000, 10, now.Add(time.Second))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, loc := range results {
		if loc.DriverID == "driver-1" {
			t.Fatalf("driver still present in old cell after move")
		}
	}

	results, err = idx.Search(10.950, 106.900, 2000, 10, now.Add(time.Second))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].DriverID != "driver-1" {
		t.Fatalf("expected driver at new position, got %v", results)
	}
}

func TestIndex_OffDutyExcludedUntilBack(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	if err := idx.Upsert("driver-1", 10.870, 106.803, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	idx.SetOnDuty("driver-1", false)
	results, _ := idx.Search(10.869, 106.803, 3000, 10, now)
	if len(results) != 0 {
		t.Fatalf("off-duty driver returned from search")
	}

	idx.SetOnDuty("driver-1", true)
	results, _ = idx.Search(10.869, 106.803, 3000, 10, now)
	if len(results) != 1 {
		t.Fatalf("expected driver back in results, got %d", len(results))
	}
}

func TestIndex_RemoveDeregisters(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	if err := idx.Upsert("driver-1", 10.870, 106.803, 0, 0, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	idx.Remove("driver-1")

	results, _ := idx.Search(10.869, 106.803, 3000, 10, now)
	if len(results) != 0 {
		t.Fatalf("removed driver still searchable")
	}
}

func TestIndex_LimitCapsResults(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	for n := 0; n < 20; n++ {
		id := fmt.Sprintf("driver-%02d", n)
		if err := idx.Upsert(id, 10.870+float64(n)*0.0001, 106.803, 0, 0, now); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	results, err := idx.Search(10.870, 106.803, 5000, 5, now)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
}

func TestIndex_InvalidInputs(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	if err := idx.Upsert("driver-1", 91, 106.803, 0, 0, now); err != ErrInvalidCoordinate {
		t.Errorf("expected ErrInvalidCoordinate for lat=91, got %v", err)
	}
	if _, err := idx.Search(10.870, 181, 3000, 10, now); err != ErrInvalidCoordinate {
		t.Errorf("expected ErrInvalidCoordinate for lng=181, got %v", err)
	}
	if _, err := idx.Search(10.870, 106.803, -5, 10, now); err != ErrInvalidRadius {
		t.Errorf("expected ErrInvalidRadius, got %v", err)
	}
}

func TestIndex_ConcurrentUpsertAndSearch(t *testing.T) {
	idx := NewIndex(5, 30*time.Second)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("driver-%d", n)
			for k := 0; k < 100; k++ {
				_ = idx.Upsert(id, 10.87+float64(n)*0.001, 106.803, 0, 0, now.Add(time.Duration(k)*time.Millisecond))
			}
		}(n)
	}
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				if _, err := idx.Search(10.870, 106.803, 5000, 10, now.Add(time.Second)); err != nil {
					t.Errorf("search: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	results, err := idx.Search(10.870, 106.803, 5000, 20, now.Add(time.Second))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected 8 drivers after concurrent writes, got %d", len(results))
	}
}

func TestIndex_ConcurrentCellMovesLeaveOneEntry(t *testing.T) {
	idx := NewIndex(5, time.Minute)
	now := time.Now().UTC()

	// Two writers bounce the same driver between two far-apart cells.
	// However the writes interleave, the directory and the cell maps
	// must agree on a single home cell afterwards.
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				lat, lng := 10.870, 106.803
				if (n+w)%2 == 0 {
					lat, lng = 21.028, 105.854
				}
				_ = idx.Upsert("driver-1", lat, lng, 0, 0, now.Add(time.Duration(n)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	idx.mu.RLock()
	home := idx.drivers["driver-1"]
	cells := make(map[string]*cell, len(idx.cells))
	for hash, c := range idx.cells {
		cells[hash] = c
	}
	idx.mu.RUnlock()

	entries := 0
	for hash, c := range cells {
		c.mu.Lock()
		if _, ok := c.entries["driver-1"]; ok {
			entries++
			if hash != home {
				t.Errorf("ghost entry in cell %s; directory says %s", hash, home)
			}
		}
		c.mu.Unlock()
	}
	if entries != 1 {
		t.Fatalf("expected exactly one cell entry for the driver, found %d", entries)
	}
}
