package route

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/etaengine/internal/common/logger"
)

const validRoute = `{
	"features": [{
		"properties": {
			"vehicleId": "tram-1",
			"routeId": "loop",
			"stops": [
				{"stopId": "s1", "name": "Depot", "lat": 0, "lon": 0.0005},
				{"stopId": "s2", "name": "Market", "lat": 0, "lon": 0.0025}
			]
		},
		"geometry": {
			"coordinates": [[0, 0], [0.001, 0], [0.002, 0], [0.003, 0]]
		}
	}]
}`

// Missing vehicleId, must fail validation.
const invalidRoute = `{
	"features": [{
		"properties": {
			"routeId": "broken",
			"stops": [{"stopId": "s1", "lat": 0, "lon": 0}]
		},
		"geometry": {
			"coordinates": [[0, 0], [0.001, 0]]
		}
	}]
}`

func writeRouteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write route file: %v", err)
	}
}

func TestCatalogLoad(t *testing.T) {
	dir := t.TempDir()
	writeRouteFile(t, dir, "loop.geojson", validRoute)
	writeRouteFile(t, dir, "notes.txt", "ignored")

	c := NewCatalog(logger.NewWriter(io.Discard))
	if err := c.Load(dir); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	g, ok := c.Route("tram-1")
	if !ok {
		t.Fatal("Expected route for tram-1")
	}
	if g.RouteID != "loop" {
		t.Errorf("Expected route id loop, got %s", g.RouteID)
	}
	if g.SegmentCount() != 3 {
		t.Errorf("Expected 3 segments, got %d", g.SegmentCount())
	}
	if len(g.Stops) != 2 {
		t.Fatalf("Expected 2 stops, got %d", len(g.Stops))
	}
	// Coordinates arrive as [lon, lat] pairs.
	if g.Coordinates[1].Lon != 0.001 || g.Coordinates[1].Lat != 0 {
		t.Errorf("Coordinate order wrong: %+v", g.Coordinates[1])
	}
}

func TestCatalogLoadSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeRouteFile(t, dir, "good.geojson", validRoute)
	writeRouteFile(t, dir, "bad.geojson", invalidRoute)
	writeRouteFile(t, dir, "garbage.geojson", "{not json")

	c := NewCatalog(logger.NewWriter(io.Discard))
	if err := c.Load(dir); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := c.Route("tram-1"); !ok {
		t.Error("Expected valid route to load despite invalid siblings")
	}
	if len(c.VehicleIDs()) != 1 {
		t.Errorf("Expected 1 loaded route, got %d", len(c.VehicleIDs()))
	}
}

func TestCatalogLoadMissingDirectory(t *testing.T) {
	c := NewCatalog(logger.NewWriter(io.Discard))
	if err := c.Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}
