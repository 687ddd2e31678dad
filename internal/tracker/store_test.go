package tracker

import (
	"fmt"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/geo"
	"github.com/etaengine/internal/route"
)

func testCatalog(vehicleIDs ...string) *route.Catalog {
	c := route.NewCatalog(logger.NewWriter(io.Discard))
	for _, id := range vehicleIDs {
		// Straight line along the equator; one stop near the far end.
		coords := []geo.Coordinate{
			{Lat: 0, Lon: 0},
			{Lat: 0, Lon: 0.001},
			{Lat: 0, Lon: 0.002},
			{Lat: 0, Lon: 0.003},
		}
		stops := []route.Stop{
			{StopID: "s1", Name: "First", Lat: 0, Lon: 0.0005},
			{StopID: "s2", Name: "Second", Lat: 0, Lon: 0.0025},
		}
		c.Add(route.NewGeometry("r-"+id, id, coords, stops))
	}
	return c
}

func testStore(catalog *route.Catalog) *Store {
	return NewStore(catalog, StoreConfig{
		MinGapMillis:        3,
		ArrivalRadiusMeters: 50,
	}, logger.NewWriter(io.Discard))
}

func TestAcceptUnknownVehicle(t *testing.T) {
	s := testStore(testCatalog("v1"))

	_, _, applied := s.Accept(Ping{VehicleID: "ghost", Lat: 0, Lon: 0, Timestamp: 1000})
	if applied {
		t.Error("Expected ping for unknown vehicle to be rejected")
	}
	if len(s.VehicleIDs()) != 0 {
		t.Error("Rejected ping must not create state")
	}
}

func TestAcceptFirstPing(t *testing.T) {
	s := testStore(testCatalog("v1"))

	state, arrivals, applied := s.Accept(Ping{VehicleID: "v1", Lat: 0.0004, Lon: 0.0001, Timestamp: 1000})
	if !applied {
		t.Fatal("Expected first ping to be accepted")
	}
	if state.Speed != 0 {
		t.Errorf("First ping has no prior position, expected speed 0, got %f", state.Speed)
	}
	if state.LastUpdated != 1000 {
		t.Errorf("Expected LastUpdated 1000, got %d", state.LastUpdated)
	}
	if len(arrivals) != 0 {
		t.Errorf("Expected no arrivals ~45m from nearest stop, got %d", len(arrivals))
	}
}

func TestAcceptComputesSpeed(t *testing.T) {
	s := testStore(testCatalog("v1"))

	s.Accept(Ping{VehicleID: "v1", Lat: 0.002, Lon: 0, Timestamp: 10_000})
	state, _, applied := s.Accept(Ping{VehicleID: "v1", Lat: 0.003, Lon: 0, Timestamp: 20_000})
	if !applied {
		t.Fatal("Expected second ping to be accepted")
	}

	// 0.001 deg of latitude is ~111.19m, covered in 10s.
	dist := geo.Distance(geo.Coordinate{Lat: 0.002}, geo.Coordinate{Lat: 0.003})
	want := dist / 10.0
	if math.Abs(state.Speed-want) > 0.01 {
		t.Errorf("Expected speed %.3f m/s, got %.3f", want, state.Speed)
	}
}

func TestAcceptRejectsOutOfOrderAndDuplicate(t *testing.T) {
	s := testStore(testCatalog("v1"))

	s.Accept(Ping{VehicleID: "v1", Lat: 0.002, Lon: 0, Timestamp: 5000})

	if _, _, applied := s.Accept(Ping{VehicleID: "v1", Lat: 0.002, Lon: 0, Timestamp: 4000}); applied {
		t.Error("Expected older ping to be rejected")
	}
	if _, _, applied := s.Accept(Ping{VehicleID: "v1", Lat: 0.002, Lon: 0, Timestamp: 5000}); applied {
		t.Error("Expected equal-timestamp ping to be rejected")
	}
	if s.IsNewer(Ping{VehicleID: "v1", Timestamp: 5000}) {
		t.Error("IsNewer must be false for an equal timestamp")
	}

	state, _ := s.State("v1")
	if state.LastUpdated != 5000 {
		t.Errorf("Rejected pings must not mutate state, LastUpdated=%d", state.LastUpdated)
	}
}

func TestAcceptDebouncesRapidPings(t *testing.T) {
	s := testStore(testCatalog("v1"))

	s.Accept(Ping{VehicleID: "v1", Lat: 0.002, Lon: 0, Timestamp: 5000})

	// Newer, but inside the 3ms debounce gap: rejected entirely, even
	// though it sits on a stop.
	_, arrivals, applied := s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0.0025, Timestamp: 5002})
	if applied {
		t.Error("Expected ping inside debounce gap to be rejected")
	}
	if len(arrivals) != 0 {
		t.Error("Debounced ping must not record arrivals")
	}

	state, _ := s.State("v1")
	if state.Arrived("s2") {
		t.Error("Debounced ping must not mark stops arrived")
	}

	// At exactly the gap boundary the ping is accepted.
	if _, _, applied := s.Accept(Ping{VehicleID: "v1", Lat: 0.002, Lon: 0, Timestamp: 5003}); !applied {
		t.Error("Expected ping at the debounce boundary to be accepted")
	}
}

func TestArrivalDetectedExactlyOnce(t *testing.T) {
	s := testStore(testCatalog("v1"))

	// On top of stop s2.
	_, arrivals, _ := s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0.0025, Timestamp: 1000})
	if len(arrivals) != 1 || arrivals[0].StopID != "s2" {
		t.Fatalf("Expected arrival at s2, got %+v", arrivals)
	}
	if arrivals[0].Timestamp != 1000 {
		t.Errorf("Arrival timestamp should be the ping timestamp, got %d", arrivals[0].Timestamp)
	}

	// Still within radius on the next ping: no repeat arrival.
	state, arrivals, _ := s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0.00252, Timestamp: 2000})
	if len(arrivals) != 0 {
		t.Errorf("Expected no repeat arrival, got %+v", arrivals)
	}
	if !state.Arrived("s2") {
		t.Error("Arrived set must persist across pings")
	}
	if state.ArrivalTimes["s2"] != 1000 {
		t.Errorf("Arrival time must keep the first detection, got %d", state.ArrivalTimes["s2"])
	}

	// Leaving and returning does not re-arrive either.
	s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0, Timestamp: 3000})
	_, arrivals, _ = s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0.0025, Timestamp: 4000})
	if len(arrivals) != 0 {
		t.Errorf("Expected no arrival on return visit, got %+v", arrivals)
	}
}

func TestAcceptedSnapshotIsImmutable(t *testing.T) {
	s := testStore(testCatalog("v1"))

	first, _, _ := s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0.0025, Timestamp: 1000})
	s.Accept(Ping{VehicleID: "v1", Lat: 0, Lon: 0.0005, Timestamp: 2000})

	// The earlier snapshot must be unaffected by the later accept.
	if first.LastUpdated != 1000 {
		t.Errorf("Old snapshot mutated: LastUpdated=%d", first.LastUpdated)
	}
	if first.Arrived("s1") {
		t.Error("Old snapshot mutated: gained arrival from later ping")
	}
}

func TestConcurrentVehiclesAreIndependent(t *testing.T) {
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	s := testStore(testCatalog(ids...))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for ts := int64(1000); ts <= 100_000; ts += 1000 {
				s.Accept(Ping{VehicleID: id, Lat: 0.002, Lon: 0, Timestamp: ts})
			}
		}(id)
	}
	wg.Wait()

	if len(s.VehicleIDs()) != len(ids) {
		t.Fatalf("Expected %d tracked vehicles, got %d", len(ids), len(s.VehicleIDs()))
	}
	for _, id := range ids {
		state, ok := s.State(id)
		if !ok || state.LastUpdated != 100_000 {
			t.Errorf("Vehicle %s: expected LastUpdated 100000, got %+v", id, state)
		}
	}
}
