package tracker

import "github.com/etaengine/internal/geo"

// Ping is one raw position report. Timestamp is epoch milliseconds; the
// ingest boundary converts from the source unit before a Ping is built.
type Ping struct {
	VehicleID string  `json:"vehicleId"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

func (p Ping) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: p.Lat, Lon: p.Lon}
}

// VehicleState is the tracked state of one vehicle. Each accepted ping
// replaces the stored state with a fresh snapshot; a snapshot is never
// mutated after it is stored, so callers may read it without copying but
// must not modify it.
type VehicleState struct {
	VehicleID    string
	Lat          float64
	Lon          float64
	Speed        float64 // m/s
	SegmentIndex int
	// ArrivedStops only grows across a vehicle's lifetime.
	ArrivedStops map[string]struct{}
	// ArrivalTimes maps stopID to the arrival timestamp in epoch ms.
	ArrivalTimes map[string]int64
	LastUpdated  int64 // epoch ms
}

// Arrived reports whether the vehicle has reached the stop.
func (s *VehicleState) Arrived(stopID string) bool {
	_, ok := s.ArrivedStops[stopID]
	return ok
}

// Arrival is one newly detected stop arrival.
type Arrival struct {
	VehicleID string
	StopID    string
	StopName  string
	Timestamp int64 // epoch ms
}
