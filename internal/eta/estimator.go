// Package eta turns tracked vehicle state into smoothed per-stop arrival
// predictions. One scalar Kalman filter runs per (vehicle, stop) pair;
// predictions are produced in complete per-vehicle batches.
package eta

import (
	"context"
	"encoding/json"
	"time"

	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/route"
	"github.com/etaengine/internal/shardmap"
	"github.com/etaengine/internal/tracker"
)

// ArrivedSentinel marks a prediction for a stop the vehicle has reached.
const ArrivedSentinel int64 = -1

// Prediction is the smoothed arrival estimate for one (vehicle, stop) pair.
type Prediction struct {
	VehicleID  string
	StopID     string
	StopName   string
	ETA        int64 // epoch ms, or ArrivedSentinel
	ComputedAt int64 // epoch ms
}

// Arrived reports whether the prediction carries the arrived sentinel.
func (p Prediction) Arrived() bool { return p.ETA == ArrivedSentinel }

// PredictionSink receives produced batches for durable logging. Failures
// are the sink's to report; the estimator does not wait on it.
type PredictionSink interface {
	SavePredictions(ctx context.Context, batch []Prediction) error
}

// Publisher receives the serialized ETA view of each produced batch.
type Publisher interface {
	Broadcast(payload []byte)
}

// View is the broadcast payload for one vehicle's batch. Arrived stops
// serialize as null.
type View struct {
	VehicleID  string            `json:"vehicleId"`
	EtaPerStop map[string]*int64 `json:"etaPerStop"`
}

type Config struct {
	MinSpeed          float64 // m/s
	MaxSpeed          float64 // m/s
	MinUpdateInterval time.Duration
	InitialCovariance float64
	ProcessNoise      float64
	MeasurementNoise  float64
}

// vehicleEstimate is the per-vehicle filter bank and last published batch.
// Mutated only inside the shard lock of its vehicle key.
type vehicleEstimate struct {
	filters   map[string]*kalmanFilter // stopID -> filter
	batch     []Prediction
	lastBatch int64 // epoch ms of last successful batch
}

// Estimator owns the (vehicle, stop) filter bank. Per-vehicle updates
// serialize on the vehicle's shard; distinct vehicles update in parallel.
type Estimator struct {
	catalog  *route.Catalog
	vehicles *shardmap.Map[*vehicleEstimate]
	cfg      Config
	sink     PredictionSink
	pub      Publisher
	logger   logger.Logger

	// now is wall-clock epoch ms; replaced in tests.
	now func() int64
}

func NewEstimator(catalog *route.Catalog, cfg Config, sink PredictionSink, pub Publisher, log logger.Logger) *Estimator {
	return &Estimator{
		catalog:  catalog,
		vehicles: shardmap.New[*vehicleEstimate](),
		cfg:      cfg,
		sink:     sink,
		pub:      pub,
		logger:   log,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Update recomputes the vehicle's prediction batch from its current state.
// The whole update is skipped, leaving the previous batch authoritative,
// when the clamped speed is below MinSpeed or the last successful batch is
// more recent than MinUpdateInterval. Returns whether a batch was produced.
func (e *Estimator) Update(ctx context.Context, state *tracker.VehicleState) bool {
	geom, ok := e.catalog.Route(state.VehicleID)
	if !ok {
		e.logger.Warn("No route for tracked vehicle", "vehicle_id", state.VehicleID)
		return false
	}

	speed := state.Speed
	if speed > e.cfg.MaxSpeed {
		speed = e.cfg.MaxSpeed
	}
	if speed < e.cfg.MinSpeed {
		e.logger.Debug("Low speed, retaining previous ETA batch",
			"vehicle_id", state.VehicleID, "speed_mps", state.Speed)
		return false
	}

	now := e.now()
	minIntervalMs := e.cfg.MinUpdateInterval.Milliseconds()

	var batch []Prediction
	produced := e.vehicles.Update(state.VehicleID, func(cur *vehicleEstimate, exists bool) (*vehicleEstimate, bool) {
		if exists && now-cur.lastBatch < minIntervalMs {
			return nil, false
		}
		if !exists {
			cur = &vehicleEstimate{filters: make(map[string]*kalmanFilter)}
		}

		batch = make([]Prediction, 0, len(geom.Stops))
		for _, stop := range geom.Stops {
			if state.Arrived(stop.StopID) {
				batch = append(batch, Prediction{
					VehicleID:  state.VehicleID,
					StopID:     stop.StopID,
					StopName:   stop.Name,
					ETA:        ArrivedSentinel,
					ComputedAt: now,
				})
				continue
			}

			remaining := e.remainingDistance(geom, state.SegmentIndex, stop.SegmentIndex)
			rawEtaSeconds := remaining / speed

			filter, ok := cur.filters[stop.StopID]
			if !ok {
				filter = newKalmanFilter(e.cfg.InitialCovariance, e.cfg.ProcessNoise, e.cfg.MeasurementNoise)
				cur.filters[stop.StopID] = filter
			}
			smoothed := filter.Update(rawEtaSeconds)

			batch = append(batch, Prediction{
				VehicleID:  state.VehicleID,
				StopID:     stop.StopID,
				StopName:   stop.Name,
				ETA:        now + int64(smoothed*1000),
				ComputedAt: now,
			})
		}

		cur.batch = batch
		cur.lastBatch = now
		return cur, true
	})

	if !produced {
		return false
	}

	// Persistence and broadcast happen strictly after the batch is
	// installed, outside the shard lock. The save must not delay the
	// broadcast.
	if e.sink != nil {
		go func(batch []Prediction) {
			if err := e.sink.SavePredictions(ctx, batch); err != nil {
				e.logger.Error("Failed to persist prediction batch",
					"vehicle_id", state.VehicleID, "error", err)
			}
		}(batch)
	}

	if e.pub != nil {
		payload, err := json.Marshal(viewOf(state.VehicleID, batch))
		if err != nil {
			e.logger.Error("Failed to marshal ETA view", "vehicle_id", state.VehicleID, "error", err)
		} else {
			e.pub.Broadcast(payload)
		}
	}

	return true
}

// remainingDistance sums segment lengths from the current segment to the
// stop's segment in route order. A stop segment behind the current one is
// treated as a loop back through the start of the polyline. That assumption
// only holds for circular routes; segment-matching noise on a linear route
// produces an overlong remaining distance here.
func (e *Estimator) remainingDistance(geom *route.Geometry, currentSegment, stopSegment int) float64 {
	if stopSegment >= currentSegment {
		return geom.DistanceBetween(currentSegment, stopSegment)
	}
	return geom.DistanceBetween(currentSegment, geom.SegmentCount()) +
		geom.DistanceBetween(0, stopSegment)
}

// Predictions returns a copy of the vehicle's last published batch, or nil.
// Batches are installed whole, never partially.
func (e *Estimator) Predictions(vehicleID string) []Prediction {
	var out []Prediction
	e.vehicles.View(vehicleID, func(cur *vehicleEstimate, ok bool) {
		if !ok || cur.batch == nil {
			return
		}
		out = make([]Prediction, len(cur.batch))
		copy(out, cur.batch)
	})
	return out
}

func viewOf(vehicleID string, batch []Prediction) View {
	per := make(map[string]*int64, len(batch))
	for _, p := range batch {
		if p.Arrived() {
			per[p.StopID] = nil
			continue
		}
		etaCopy := p.ETA
		per[p.StopID] = &etaCopy
	}
	return View{VehicleID: vehicleID, EtaPerStop: per}
}
