// Package route loads and serves the immutable route catalog: one GeoJSON
// file per route, each carrying the vehicle assignment, the polyline and the
// ordered stop list.
package route

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/geo"
)

// Catalog maps vehicle ids to their route geometry. It is built once by
// Load and read-only afterwards, so lookups need no locking.
type Catalog struct {
	routes map[string]*Geometry
	logger logger.Logger
}

func NewCatalog(log logger.Logger) *Catalog {
	return &Catalog{
		routes: make(map[string]*Geometry),
		logger: log,
	}
}

// routeFile mirrors the on-disk GeoJSON route definition: a single Feature
// whose properties carry the vehicle assignment and stops, and whose
// geometry is the route LineString as [lon, lat] pairs.
type routeFile struct {
	Features []routeFeature `json:"features" validate:"min=1"`
}

type routeFeature struct {
	Properties routeProperties `json:"properties"`
	Geometry   routeLineString `json:"geometry"`
}

type routeProperties struct {
	VehicleID string     `json:"vehicleId" validate:"required"`
	RouteID   string     `json:"routeId" validate:"required"`
	Stops     []stopNode `json:"stops" validate:"min=1,dive"`
}

type stopNode struct {
	StopID string  `json:"stopId" validate:"required"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon    float64 `json:"lon" validate:"gte=-180,lte=180"`
}

type routeLineString struct {
	Coordinates [][]float64 `json:"coordinates" validate:"min=2,dive,len=2"`
}

// Load reads every *.geojson file in dir and builds the catalog. A file
// that fails to read, parse or validate is logged and skipped; the rest of
// the catalog still loads. An unreadable directory is an error.
func (c *Catalog) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading routes directory: %w", err)
	}

	validate := validator.New()
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".geojson") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		g, err := loadRouteFile(path, validate)
		if err != nil {
			c.logger.Error("Skipping route file", "file", entry.Name(), "error", err)
			continue
		}
		c.routes[g.VehicleID] = g
		loaded++
		c.logger.Info("Loaded route",
			"vehicle_id", g.VehicleID,
			"route_id", g.RouteID,
			"stops", len(g.Stops),
			"segments", g.SegmentCount())
	}

	c.logger.Info("Route catalog loaded", "routes", loaded)
	return nil
}

func loadRouteFile(path string, validate *validator.Validate) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var file routeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("validating route: %w", err)
	}

	feature := file.Features[0]
	coords := make([]geo.Coordinate, 0, len(feature.Geometry.Coordinates))
	for _, pair := range feature.Geometry.Coordinates {
		coords = append(coords, geo.Coordinate{Lon: pair[0], Lat: pair[1]})
	}

	stops := make([]Stop, 0, len(feature.Properties.Stops))
	for _, node := range feature.Properties.Stops {
		stops = append(stops, Stop{
			StopID: node.StopID,
			Name:   node.Name,
			Lat:    node.Lat,
			Lon:    node.Lon,
		})
	}

	return NewGeometry(feature.Properties.RouteID, feature.Properties.VehicleID, coords, stops), nil
}

// Add registers a geometry under its vehicle id. Not safe to call after the
// catalog is being read concurrently.
func (c *Catalog) Add(g *Geometry) {
	c.routes[g.VehicleID] = g
}

// Route returns the geometry assigned to vehicleID.
func (c *Catalog) Route(vehicleID string) (*Geometry, bool) {
	g, ok := c.routes[vehicleID]
	return g, ok
}

// VehicleIDs returns every vehicle id with a loaded route.
func (c *Catalog) VehicleIDs() []string {
	ids := make([]string, 0, len(c.routes))
	for id := range c.routes {
		ids = append(ids, id)
	}
	return ids
}
