package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/etaengine/internal/tracker"
)

// rawPing mirrors the wire record. Pointer fields distinguish absent from
// zero so malformed records are rejected rather than defaulted.
type rawPing struct {
	VehicleID string   `json:"vehicleId"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Timestamp *int64   `json:"timestamp"`
}

// parsePing decodes one wire record and converts its timestamp from the
// declared source unit ("ms" or "s") to canonical epoch milliseconds. The
// unit comes from configuration; it is never inferred from the value.
func parsePing(data []byte, unit string) (tracker.Ping, error) {
	var raw rawPing
	if err := json.Unmarshal(data, &raw); err != nil {
		return tracker.Ping{}, fmt.Errorf("decoding ping: %w", err)
	}
	if raw.VehicleID == "" {
		return tracker.Ping{}, fmt.Errorf("ping missing vehicleId")
	}
	if raw.Lat == nil || raw.Lon == nil || raw.Timestamp == nil {
		return tracker.Ping{}, fmt.Errorf("ping missing lat, lon or timestamp")
	}
	if *raw.Lat < -90 || *raw.Lat > 90 || *raw.Lon < -180 || *raw.Lon > 180 {
		return tracker.Ping{}, fmt.Errorf("ping coordinates out of range: %f, %f", *raw.Lat, *raw.Lon)
	}
	if *raw.Timestamp <= 0 {
		return tracker.Ping{}, fmt.Errorf("ping timestamp not positive: %d", *raw.Timestamp)
	}

	ts := *raw.Timestamp
	switch unit {
	case "ms":
	case "s":
		ts *= 1000
	default:
		return tracker.Ping{}, fmt.Errorf("unsupported timestamp unit %q", unit)
	}

	return tracker.Ping{
		VehicleID: raw.VehicleID,
		Lat:       *raw.Lat,
		Lon:       *raw.Lon,
		Timestamp: ts,
	}, nil
}
