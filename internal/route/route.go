package route

import "github.com/etaengine/internal/geo"

// Stop is one scheduled stop on a route. SegmentIndex is the polyline
// segment nearest to the stop, assigned once at catalog load.
type Stop struct {
	StopID       string
	Name         string
	Lat          float64
	Lon          float64
	SegmentIndex int
}

// Coordinate returns the stop position as a geo.Coordinate.
func (s Stop) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: s.Lat, Lon: s.Lon}
}

// Geometry is the immutable polyline and stop list for one vehicle's route.
// It is shared read-only by every consumer after load.
type Geometry struct {
	RouteID   string
	VehicleID string

	Coordinates []geo.Coordinate
	Stops       []Stop

	// segmentLengths[i] is the haversine length of the segment from
	// Coordinates[i] to Coordinates[i+1], precomputed at load.
	segmentLengths []float64
}

// NewGeometry builds a route geometry from a polyline and stop list,
// precomputing segment lengths and assigning each stop its nearest segment.
func NewGeometry(routeID, vehicleID string, coords []geo.Coordinate, stops []Stop) *Geometry {
	g := &Geometry{
		RouteID:        routeID,
		VehicleID:      vehicleID,
		Coordinates:    coords,
		segmentLengths: computeSegmentLengths(coords),
	}
	g.Stops = make([]Stop, 0, len(stops))
	for _, stop := range stops {
		stop.SegmentIndex = g.NearestSegment(stop.Coordinate())
		g.Stops = append(g.Stops, stop)
	}
	return g
}

// SegmentCount returns the number of polyline segments.
func (g *Geometry) SegmentCount() int {
	return len(g.Coordinates) - 1
}

// DistanceBetween sums segment lengths from segment `from` up to (but not
// including) segment `to`, i.e. the path distance from the start of segment
// `from` to the start of segment `to`.
func (g *Geometry) DistanceBetween(from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to > len(g.segmentLengths) {
		to = len(g.segmentLengths)
	}
	sum := 0.0
	for i := from; i < to; i++ {
		sum += g.segmentLengths[i]
	}
	return sum
}

// NearestSegment returns the index of the polyline segment closest to p.
// Ties resolve to the lowest index.
func (g *Geometry) NearestSegment(p geo.Coordinate) int {
	best := -1
	bestDist := 0.0
	for i := 0; i+1 < len(g.Coordinates); i++ {
		d := geo.PointToSegmentDistance(p, g.Coordinates[i], g.Coordinates[i+1])
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func computeSegmentLengths(coords []geo.Coordinate) []float64 {
	if len(coords) < 2 {
		return nil
	}
	lengths := make([]float64, len(coords)-1)
	for i := 0; i+1 < len(coords); i++ {
		lengths[i] = geo.Distance(coords[i], coords[i+1])
	}
	return lengths
}
