// Package geo provides the distance primitives used for route matching:
// great-circle distance between two WGS84 points and the distance from a
// point to a polyline segment.
package geo

import "math"

const earthRadiusMeters = 6371000.0

// Metres per degree at the equator, used for the local planar projection.
const (
	metersPerDegreeLon = 111320.0
	metersPerDegreeLat = 110540.0
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PointToSegmentDistance returns the distance in meters from p to the
// segment [segStart, segEnd]. The segment is projected onto a local planar
// approximation (degrees scaled to meters), the projection parameter is
// clamped to [0,1], and the result is the Euclidean distance from p to the
// clamped projection. A degenerate segment falls back to Distance.
func PointToSegmentDistance(p, segStart, segEnd Coordinate) float64 {
	x0, y0 := project(p)
	x1, y1 := project(segStart)
	x2, y2 := project(segEnd)

	dx := x2 - x1
	dy := y2 - y1
	if dx == 0 && dy == 0 {
		return Distance(p, segStart)
	}

	t := ((x0-x1)*dx + (y0-y1)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))

	px := x1 + t*dx
	py := y1 + t*dy
	return math.Hypot(px-x0, py-y0)
}

func project(c Coordinate) (x, y float64) {
	return c.Lon * metersPerDegreeLon, c.Lat * metersPerDegreeLat
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
