package ingest

import "testing"

func TestParsePingMilliseconds(t *testing.T) {
	data := []byte(`{"vehicleId":"v1","lat":-37.81,"lon":144.96,"timestamp":1700000000123}`)

	p, err := parsePing(data, "ms")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.VehicleID != "v1" {
		t.Errorf("Expected vehicleId v1, got %s", p.VehicleID)
	}
	if p.Timestamp != 1700000000123 {
		t.Errorf("Expected timestamp unchanged, got %d", p.Timestamp)
	}
}

func TestParsePingSecondsConverted(t *testing.T) {
	data := []byte(`{"vehicleId":"v1","lat":0,"lon":0,"timestamp":1700000000}`)

	p, err := parsePing(data, "s")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Timestamp != 1700000000000 {
		t.Errorf("Expected seconds converted to ms, got %d", p.Timestamp)
	}
}

func TestParsePingZeroCoordinatesValid(t *testing.T) {
	// lat/lon of exactly zero are valid positions, not missing fields.
	data := []byte(`{"vehicleId":"v1","lat":0,"lon":0,"timestamp":1000}`)
	if _, err := parsePing(data, "ms"); err != nil {
		t.Errorf("Unexpected error for zero coordinates: %v", err)
	}
}

func TestParsePingRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{"vehicleId":`},
		{"missing vehicle", `{"lat":0,"lon":0,"timestamp":1000}`},
		{"missing lat", `{"vehicleId":"v1","lon":0,"timestamp":1000}`},
		{"missing timestamp", `{"vehicleId":"v1","lat":0,"lon":0}`},
		{"lat out of range", `{"vehicleId":"v1","lat":91,"lon":0,"timestamp":1000}`},
		{"lon out of range", `{"vehicleId":"v1","lat":0,"lon":181,"timestamp":1000}`},
		{"zero timestamp", `{"vehicleId":"v1","lat":0,"lon":0,"timestamp":0}`},
		{"negative timestamp", `{"vehicleId":"v1","lat":0,"lon":0,"timestamp":-5}`},
	}

	for _, tc := range cases {
		if _, err := parsePing([]byte(tc.data), "ms"); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestParsePingRejectsUnknownUnit(t *testing.T) {
	data := []byte(`{"vehicleId":"v1","lat":0,"lon":0,"timestamp":1000}`)
	if _, err := parsePing(data, "ns"); err == nil {
		t.Error("Expected error for unknown timestamp unit")
	}
}
