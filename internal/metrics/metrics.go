// Package metrics exposes the service's operational counters on a
// dedicated prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/etaengine/internal/common/logger"
)

type Collector struct {
	reg *prometheus.Registry

	PingsReceived prometheus.Counter
	PingsAccepted prometheus.Counter
	PingsDropped  *prometheus.CounterVec // reason: malformed|unknown_vehicle|stale|out_of_order|debounced|backpressure

	StopArrivals prometheus.Counter

	BatchesProduced prometheus.Counter
	BatchesSkipped  prometheus.Counter

	BroadcastsSent prometheus.Counter
	Subscribers    *prometheus.GaugeVec // channel: state|eta

	PersistenceErrors prometheus.Counter

	NATSConnected *prometheus.GaugeVec // conn: ingest|broadcast

	ProcessDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_pings_received_total",
			Help: "Total ping records received from the ingest source.",
		}),
		PingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_pings_accepted_total",
			Help: "Total pings accepted into the state store.",
		}),
		PingsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etaengine_pings_dropped_total",
			Help: "Total pings dropped before state mutation.",
		}, []string{"reason"}),
		StopArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_stop_arrivals_total",
			Help: "Total stop arrivals detected.",
		}),
		BatchesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_eta_batches_produced_total",
			Help: "Total complete ETA prediction batches produced.",
		}),
		BatchesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_eta_batches_skipped_total",
			Help: "Total ETA updates skipped by speed gating or rate limiting.",
		}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_broadcasts_total",
			Help: "Total payloads handed to the broadcaster.",
		}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etaengine_subscribers",
			Help: "Current number of live broadcast subscribers.",
		}, []string{"channel"}),
		PersistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etaengine_persistence_errors_total",
			Help: "Total failed persistence writes.",
		}),
		NATSConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etaengine_nats_connected",
			Help: "1 if the named NATS connection is established.",
		}, []string{"conn"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "etaengine_ping_process_duration_seconds",
			Help:    "Duration of the accept-estimate-broadcast cycle per ping.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.PingsReceived, c.PingsAccepted, c.PingsDropped,
		c.StopArrivals,
		c.BatchesProduced, c.BatchesSkipped,
		c.BroadcastsSent, c.Subscribers,
		c.PersistenceErrors,
		c.NATSConnected,
		c.ProcessDuration,
	)

	return c
}

// SubscriberGauge adapts one labeled subscriber gauge to the broadcaster's
// metrics hook.
type SubscriberGauge struct {
	gauge prometheus.Gauge
}

func (c *Collector) SubscriberGauge(channel string) *SubscriberGauge {
	return &SubscriberGauge{gauge: c.Subscribers.WithLabelValues(channel)}
}

func (g *SubscriberGauge) SetSubscribers(count int) {
	g.gauge.Set(float64(count))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr. The caller shuts
// it down via the returned server.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error", "error", err)
		}
	}()
	log.Info("Metrics listening", "addr", addr)
	return srv
}
