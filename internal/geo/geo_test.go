package geo

import (
	"math"
	"testing"
)

func TestDistanceZero(t *testing.T) {
	p := Coordinate{Lat: 12.97, Lon: 77.59}
	if d := Distance(p, p); d != 0 {
		t.Fatalf("distance to self = %f, want 0", d)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude is roughly 111.2 km.
	a := Coordinate{Lat: 0, Lon: 0}
	b := Coordinate{Lat: 1, Lon: 0}
	d := Distance(a, b)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("distance = %f, want ~111195", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Coordinate{Lat: 12.9716, Lon: 77.5946}
	b := Coordinate{Lat: 12.9721, Lon: 77.5933}
	if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestPointToSegmentDistanceProjectionInside(t *testing.T) {
	// Horizontal segment on the equator, point directly above the middle.
	start := Coordinate{Lat: 0, Lon: 0}
	end := Coordinate{Lat: 0, Lon: 0.01}
	p := Coordinate{Lat: 0.001, Lon: 0.005}

	d := PointToSegmentDistance(p, start, end)
	want := 0.001 * 110540.0
	if math.Abs(d-want) > 1 {
		t.Fatalf("distance = %f, want ~%f", d, want)
	}
}

func TestPointToSegmentDistanceClampsToEndpoint(t *testing.T) {
	// Point beyond the end of the segment projects onto the endpoint.
	start := Coordinate{Lat: 0, Lon: 0}
	end := Coordinate{Lat: 0, Lon: 0.01}
	p := Coordinate{Lat: 0, Lon: 0.02}

	d := PointToSegmentDistance(p, start, end)
	want := 0.01 * 111320.0
	if math.Abs(d-want) > 1 {
		t.Fatalf("distance = %f, want ~%f", d, want)
	}
}

func TestPointToSegmentDistanceDegenerate(t *testing.T) {
	a := Coordinate{Lat: 12.97, Lon: 77.59}
	p := Coordinate{Lat: 12.98, Lon: 77.60}
	if got, want := PointToSegmentDistance(p, a, a), Distance(p, a); got != want {
		t.Fatalf("degenerate segment distance = %f, want %f", got, want)
	}
}
