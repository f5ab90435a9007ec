package geo

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
)

var (
	// ErrInvalidCoordinate is returned for NaN or out-of-range lat/lng.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrInvalidRadius is returned when the search radius is not a positive finite number.
	ErrInvalidRadius = errors.New("invalid search radius")
)

const (
	earthRadiusMeters = 6371000.0
	metersPerDegLat   = 111320.0

	// Stale entries are kept unsearchable until they age past this multiple
	// of the staleness window, then purged during cell scans.
	purgeFactor = 4
)

// DriverLocation is a driver's last reported position.
type DriverLocation struct {
	DriverID       string
	Lat            float64
	Lng            float64
	HeadingDeg     float64
	SpeedKph       float64
	UpdatedAt      time.Time
	DistanceMeters float64 // populated on search results
}

// cell holds the drivers currently inside one geohash cell.
// Each cell carries its own lock so updates in one part of the map
// never serialize against searches elsewhere.
type cell struct {
	mu      sync.Mutex
	entries map[string]DriverLocation
}

// Index is an in-process spatial index of driver positions, bucketed
// into fixed-precision geohash cells.
type Index struct {
	precision  uint
	staleAfter time.Duration

	// mu guards only the directory maps below. Position data lives in
	// the per-cell maps under each cell's own lock.
	mu      sync.RWMutex
	cells   map[string]*cell
	drivers map[string]string // driver ID -> geohash of current cell
	offDuty map[string]bool
}

// NewIndex creates an Index. precision is the geohash length used for
// bucketing (5 ≈ 4.9km cells); staleAfter is the window after which an
// entry stops appearing in search results.
func NewIndex(precision uint, staleAfter time.Duration) *Index {
	if precision == 0 {
		precision = 5
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &Index{
		precision:  precision,
		staleAfter: staleAfter,
		cells:      make(map[string]*cell),
		drivers:    make(map[string]string),
		offDuty:    make(map[string]bool),
	}
}

// Upsert records the driver's latest position. Writes carrying an older
// timestamp than the stored entry are ignored, so concurrent reports
// for the same driver resolve to the newest one.
func (i *Index) Upsert(driverID string, lat, lng, headingDeg, speedKph float64, now time.Time) error {
	if driverID == "" {
		return errors.New("driver id required")
	}
	if !validCoordinate(lat, lng) {
		return ErrInvalidCoordinate
	}

	hash := geohash.EncodeWithPrecision(lat, lng, i.precision)

	i.mu.Lock()
	prevHash, had := i.drivers[driverID]
	c, ok := i.cells[hash]
	if !ok {
		c = &cell{entries: make(map[string]DriverLocation)}
		i.cells[hash] = c
	}
	var prevCell *cell
	if had && prevHash != hash {
		prevCell = i.cells[prevHash]
	}
	i.drivers[driverID] = hash
	i.mu.Unlock()

	loc := DriverLocation{
		DriverID:   driverID,
		Lat:        lat,
		Lng:        lng,
		HeadingDeg: headingDeg,
		SpeedKph:   speedKph,
		UpdatedAt:  now,
	}

	c.mu.Lock()
	if existing, ok := c.entries[driverID]; !ok || !existing.UpdatedAt.After(now) {
		// Re-check the directory under the cell lock: a concurrent
		// report may have moved the driver to another cell after our
		// directory write, and inserting here would leave a ghost
		// entry the directory no longer tracks.
		if i.currentCell(driverID) == hash {
			c.entries[driverID] = loc
		}
	}
	c.mu.Unlock()

	if prevCell != nil {
		prevCell.mu.Lock()
		// The directory decides which cell owns the driver; anything
		// left in a cell it no longer points at is a leftover.
		if i.currentCell(driverID) != prevHash {
			delete(prevCell.entries, driverID)
		}
		prevCell.mu.Unlock()
	}

	return nil
}

// currentCell reads the directory's cell assignment for a driver. Safe
// to call while holding a cell lock; nothing acquires cell locks while
// holding the directory lock.
func (i *Index) currentCell(driverID string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.drivers[driverID]
}

// Remove deregisters a driver entirely (driver went offline).
func (i *Index) Remove(driverID string) {
	i.mu.Lock()
	hash, ok := i.drivers[driverID]
	delete(i.drivers, driverID)
	delete(i.offDuty, driverID)
	var c *cell
	if ok {
		c = i.cells[hash]
	}
	i.mu.Unlock()

	if c != nil {
		c.mu.Lock()
		delete(c.entries, driverID)
		c.mu.Unlock()
	}
}

// SetOnDuty marks a driver searchable or not without discarding its
// position. Off-duty drivers are excluded from search results.
func (i *Index) SetOnDuty(driverID string, onDuty bool) {
	i.mu.Lock()
	if onDuty {
		delete(i.offDuty, driverID)
	} else {
		i.offDuty[driverID] = true
	}
	i.mu.Unlock()
}

// Search returns on-duty, non-stale drivers within radiusMeters of the
// given point, sorted ascending by great-circle distance and capped at
// limit. An empty result is not an error.
func (i *Index) Search(lat, lng, radiusMeters float64, limit int, now time.Time) ([]DriverLocation, error) {
	if !validCoordinate(lat, lng) {
		return nil, ErrInvalidCoordinate
	}
	if radiusMeters <= 0 || math.IsNaN(radiusMeters) || math.IsInf(radiusMeters, 0) {
		return nil, ErrInvalidRadius
	}
	if limit <= 0 {
		limit = 10
	}

	var results []DriverLocation
	var purge []string
	cutoff := now.Add(-i.staleAfter)
	purgeCutoff := now.Add(-time.Duration(purgeFactor) * i.staleAfter)

	for _, hash := range i.coveringCells(lat, lng, radiusMeters) {
		i.mu.RLock()
		c := i.cells[hash]
		i.mu.RUnlock()
		if c == nil {
			continue
		}

		c.mu.Lock()
		for id, loc := range c.entries {
			if loc.UpdatedAt.Before(purgeCutoff) {
				delete(c.entries, id)
				purge = append(purge, id)
				continue
			}
			if loc.UpdatedAt.Before(cutoff) {
				continue
			}
			dist := haversineMeters(lat, lng, loc.Lat, loc.Lng)
			if dist > radiusMeters {
				continue
			}
			loc.DistanceMeters = dist
			results = append(results, loc)
		}
		c.mu.Unlock()
	}

	if len(purge) > 0 {
		i.mu.Lock()
		for _, id := range purge {
			delete(i.drivers, id)
			delete(i.offDuty, id)
		}
		i.mu.Unlock()
	}

	// Filter off-duty drivers after the cell scans so cell locks are
	// never held while touching the directory.
	i.mu.RLock()
	filtered := results[:0]
	for _, loc := range results {
		if !i.offDuty[loc.DriverID] {
			filtered = append(filtered, loc)
		}
	}
	i.mu.RUnlock()
	results = filtered

	sort.Slice(results, func(a, b int) bool {
		return results[a].DistanceMeters < results[b].DistanceMeters
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// coveringCells enumerates every geohash cell intersecting the bounding
// box of the search circle. Cells beyond the circle produce false
// positives that the exact distance filter discards; no cell inside the
// circle is ever skipped.
func (i *Index) coveringCells(lat, lng, radiusMeters float64) []string {
	box := geohash.BoundingBox(geohash.EncodeWithPrecision(lat, lng, i.precision))
	cellH := box.MaxLat - box.MinLat
	cellW := box.MaxLng - box.MinLng

	latDelta := radiusMeters / metersPerDegLat
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lngDelta := radiusMeters / (metersPerDegLat * cosLat)

	minLat := math.Max(lat-latDelta, -90)
	maxLat := math.Min(lat+latDelta, 90)
	minLng := math.Max(lng-lngDelta, -180)
	maxLng := math.Min(lng+lngDelta, 180)

	seen := make(map[string]struct{})
	var hashes []string
	for la := minLat; ; la += cellH {
		if la > maxLat {
			la = maxLat
		}
		for lo := minLng; ; lo += cellW {
			if lo > maxLng {
				lo = maxLng
			}
			h := geohash.EncodeWithPrecision(la, lo, i.precision)
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				hashes = append(hashes, h)
			}
			if lo >= maxLng {
				break
			}
		}
		if la >= maxLat {
			break
		}
	}
	return hashes
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// haversineMeters computes the great-circle distance between two points.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
