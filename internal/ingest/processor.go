package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/etaengine/internal/broadcast"
	"github.com/etaengine/internal/common/config"
	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/eta"
	"github.com/etaengine/internal/metrics"
	"github.com/etaengine/internal/route"
	"github.com/etaengine/internal/tracker"
)

// SessionHooks is the capability interface of one ingest session: the
// transport invokes these as the session opens, delivers records, fails
// and closes.
type SessionHooks interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(err error)
	OnError(err error)
}

// ArrivalSink durably records detected stop arrivals. Failures are logged,
// never propagated into the pipeline.
type ArrivalSink interface {
	SaveArrival(ctx context.Context, a tracker.Arrival) error
}

// StateView is the broadcast payload built from an accepted ping.
type StateView struct {
	VehicleID    string           `json:"vehicleId"`
	Lat          float64          `json:"lat"`
	Lon          float64          `json:"lon"`
	Timestamp    int64            `json:"timestamp"`
	ArrivedStops []string         `json:"arrivedStops"`
	ArrivalTimes map[string]int64 `json:"arrivalTimes"`
}

// Processor runs the per-ping pipeline: parse and gate, update the state
// store, save arrivals, refresh predictions, broadcast the state view. It
// implements SessionHooks.
type Processor struct {
	cfg       config.IngestConfig
	catalog   *route.Catalog
	store     *tracker.Store
	estimator *eta.Estimator
	bcast     *broadcast.Broadcaster
	arrivals  ArrivalSink
	collector *metrics.Collector
	logger    logger.Logger

	ctx context.Context

	// now is wall-clock epoch ms for the staleness gate; replaced in tests.
	now func() int64
}

func NewProcessor(
	cfg config.IngestConfig,
	catalog *route.Catalog,
	store *tracker.Store,
	estimator *eta.Estimator,
	bcast *broadcast.Broadcaster,
	arrivals ArrivalSink,
	collector *metrics.Collector,
	log logger.Logger,
) *Processor {
	return &Processor{
		cfg:       cfg,
		catalog:   catalog,
		store:     store,
		estimator: estimator,
		bcast:     bcast,
		arrivals:  arrivals,
		collector: collector,
		logger:    log,
		ctx:       context.Background(),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Start consumes raw records from msgChan until the context is cancelled
// or the channel closes, driving the session hooks.
func (p *Processor) Start(ctx context.Context, msgChan <-chan []byte) {
	p.ctx = ctx
	go func() {
		p.OnOpen()
		for {
			select {
			case <-ctx.Done():
				p.OnClose(ctx.Err())
				return
			case data, ok := <-msgChan:
				if !ok {
					p.OnClose(nil)
					return
				}
				p.OnMessage(data)
			}
		}
	}()
}

func (p *Processor) OnOpen() {
	p.logger.Info("Ingest session open", "timestamp_unit", p.cfg.TimestampUnit)
}

func (p *Processor) OnClose(err error) {
	if err != nil {
		p.logger.Info("Ingest session closed", "error", err)
		return
	}
	p.logger.Info("Ingest session closed")
}

func (p *Processor) OnError(err error) {
	p.logger.Error("Ingest session error", "error", err)
}

// OnMessage handles one raw ping record end to end. Every drop is local:
// no state changes, the next record proceeds normally.
func (p *Processor) OnMessage(data []byte) {
	start := time.Now()
	p.count(func(c *metrics.Collector) { c.PingsReceived.Inc() })

	ping, err := parsePing(data, p.cfg.TimestampUnit)
	if err != nil {
		p.drop("malformed")
		p.logger.Debug("Dropping malformed ping", "error", err)
		return
	}

	if _, ok := p.catalog.Route(ping.VehicleID); !ok {
		p.drop("unknown_vehicle")
		return
	}

	if p.now()-ping.Timestamp > p.cfg.Staleness.Milliseconds() {
		p.drop("stale")
		return
	}

	if !p.store.IsNewer(ping) {
		p.drop("out_of_order")
		return
	}

	state, arrivals, applied := p.store.Accept(ping)
	if !applied {
		p.drop("debounced")
		return
	}
	p.count(func(c *metrics.Collector) { c.PingsAccepted.Inc() })

	// State mutation is complete; everything below is I/O on the snapshot.
	for _, a := range arrivals {
		p.count(func(c *metrics.Collector) { c.StopArrivals.Inc() })
		if p.arrivals != nil {
			if err := p.arrivals.SaveArrival(p.ctx, a); err != nil {
				p.count(func(c *metrics.Collector) { c.PersistenceErrors.Inc() })
				p.logger.Error("Failed to persist arrival",
					"vehicle_id", a.VehicleID, "stop_id", a.StopID, "error", err)
			}
		}
	}

	if p.estimator.Update(p.ctx, state) {
		p.count(func(c *metrics.Collector) { c.BatchesProduced.Inc() })
	} else {
		p.count(func(c *metrics.Collector) { c.BatchesSkipped.Inc() })
	}

	p.broadcastState(state)
	p.count(func(c *metrics.Collector) { c.ProcessDuration.Observe(time.Since(start).Seconds()) })
}

func (p *Processor) broadcastState(state *tracker.VehicleState) {
	view := StateView{
		VehicleID:    state.VehicleID,
		Lat:          state.Lat,
		Lon:          state.Lon,
		Timestamp:    state.LastUpdated,
		ArrivedStops: make([]string, 0, len(state.ArrivedStops)),
		ArrivalTimes: state.ArrivalTimes,
	}
	for id := range state.ArrivedStops {
		view.ArrivedStops = append(view.ArrivedStops, id)
	}
	sort.Strings(view.ArrivedStops)

	payload, err := json.Marshal(view)
	if err != nil {
		p.logger.Error("Failed to marshal state view", "vehicle_id", state.VehicleID, "error", err)
		return
	}
	p.bcast.Broadcast(payload)
	p.count(func(c *metrics.Collector) { c.BroadcastsSent.Inc() })
}

func (p *Processor) drop(reason string) {
	p.count(func(c *metrics.Collector) { c.PingsDropped.WithLabelValues(reason).Inc() })
}

func (p *Processor) count(fn func(c *metrics.Collector)) {
	if p.collector != nil {
		fn(p.collector)
	}
}
