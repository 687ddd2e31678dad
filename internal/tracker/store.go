// Package tracker maintains the live per-vehicle state: position, segment
// localization, speed estimation and stop-arrival detection.
package tracker

import (
	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/geo"
	"github.com/etaengine/internal/route"
	"github.com/etaengine/internal/shardmap"
)

// Store holds the current VehicleState per vehicle. Updates of the same
// vehicle serialize on its shard; distinct vehicles update in parallel.
type Store struct {
	states  *shardmap.Map[*VehicleState]
	catalog *route.Catalog
	logger  logger.Logger

	minGapMillis  int64
	arrivalRadius float64 // meters
}

type StoreConfig struct {
	MinGapMillis        int64
	ArrivalRadiusMeters float64
}

func NewStore(catalog *route.Catalog, cfg StoreConfig, log logger.Logger) *Store {
	return &Store{
		states:        shardmap.New[*VehicleState](),
		catalog:       catalog,
		logger:        log,
		minGapMillis:  cfg.MinGapMillis,
		arrivalRadius: cfg.ArrivalRadiusMeters,
	}
}

// IsNewer reports whether the ping is newer than the stored state. Cheap
// read-only pre-filter; Accept re-checks under the shard lock.
func (s *Store) IsNewer(p Ping) bool {
	cur, ok := s.states.Get(p.VehicleID)
	return !ok || p.Timestamp > cur.LastUpdated
}

// Accept applies the ping to the vehicle's state. It rejects, with no state
// mutation, pings for unknown vehicles, pings not strictly newer than the
// stored state, and pings inside the debounce gap. On acceptance it returns
// the new snapshot, any newly detected arrivals, and true.
func (s *Store) Accept(p Ping) (*VehicleState, []Arrival, bool) {
	geom, ok := s.catalog.Route(p.VehicleID)
	if !ok {
		s.logger.Debug("Dropping ping for unknown vehicle", "vehicle_id", p.VehicleID)
		return nil, nil, false
	}

	// Segment resolution only reads immutable geometry; keep it outside
	// the shard lock.
	segment := geom.NearestSegment(p.Coordinate())

	var next *VehicleState
	var arrivals []Arrival
	applied := s.states.Update(p.VehicleID, func(prev *VehicleState, exists bool) (*VehicleState, bool) {
		if exists {
			if p.Timestamp <= prev.LastUpdated {
				return nil, false
			}
			if p.Timestamp-prev.LastUpdated < s.minGapMillis {
				return nil, false
			}
		}

		next = &VehicleState{
			VehicleID:    p.VehicleID,
			Lat:          p.Lat,
			Lon:          p.Lon,
			SegmentIndex: segment,
			ArrivedStops: make(map[string]struct{}),
			ArrivalTimes: make(map[string]int64),
			LastUpdated:  p.Timestamp,
		}
		if exists {
			for id := range prev.ArrivedStops {
				next.ArrivedStops[id] = struct{}{}
			}
			for id, ts := range prev.ArrivalTimes {
				next.ArrivalTimes[id] = ts
			}
			elapsed := float64(p.Timestamp-prev.LastUpdated) / 1000.0
			dist := geo.Distance(geo.Coordinate{Lat: prev.Lat, Lon: prev.Lon}, p.Coordinate())
			next.Speed = dist / elapsed
		}

		for _, stop := range geom.Stops {
			if next.Arrived(stop.StopID) {
				continue
			}
			if geo.Distance(p.Coordinate(), stop.Coordinate()) <= s.arrivalRadius {
				next.ArrivedStops[stop.StopID] = struct{}{}
				next.ArrivalTimes[stop.StopID] = p.Timestamp
				arrivals = append(arrivals, Arrival{
					VehicleID: p.VehicleID,
					StopID:    stop.StopID,
					StopName:  stop.Name,
					Timestamp: p.Timestamp,
				})
			}
		}

		return next, true
	})

	if !applied {
		return nil, nil, false
	}
	for _, a := range arrivals {
		s.logger.Info("Vehicle arrived at stop",
			"vehicle_id", a.VehicleID,
			"stop_id", a.StopID,
			"stop_name", a.StopName)
	}
	return next, arrivals, true
}

// State returns the vehicle's current snapshot. The snapshot is read-only.
func (s *Store) State(vehicleID string) (*VehicleState, bool) {
	return s.states.Get(vehicleID)
}

// VehicleIDs returns every vehicle with tracked state.
func (s *Store) VehicleIDs() []string {
	return s.states.Keys()
}
