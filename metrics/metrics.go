// Package metrics exports habitat state as prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/habitat/telemetry"
)

// Metrics holds the collectors of one process. Each instance owns its
// registry, so tests can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	agents       *prometheus.GaugeVec
	storage      *prometheus.GaugeVec
	deaths       *prometheus.CounterVec
	terminated   prometheus.Gauge
}

// New registers the habitat collectors plus the Go runtime and process
// collectors. namespace defaults to "habitat".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "habitat"
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation steps completed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one simulation step.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		agents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Instances alive per agent type.",
		}, []string{"agent_type"}),
		storage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_balance",
			Help:      "Currency held per storage.",
		}, []string{"storage", "currency"}),
		deaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_deaths_total",
			Help:      "Agents removed from the habitat.",
		}, []string{"agent_type", "reason"}),
		terminated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminated",
			Help:      "1 once the simulation has stopped.",
		}),
	}
	m.reg.MustRegister(
		m.ticks, m.tickDuration, m.agents, m.storage, m.deaths, m.terminated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStep updates every gauge from a step record. d is the wall time
// the step took.
func (m *Metrics) ObserveStep(rec telemetry.StepRecord, d time.Duration) {
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	for _, p := range rec.Populations {
		m.agents.WithLabelValues(p.AgentType).Set(float64(p.Amount))
	}
	for _, s := range rec.Storages {
		m.storage.WithLabelValues(StorageLabel(s.StorageType, s.StorageID), s.Currency).Set(s.Balance)
	}
	if rec.IsTerminated {
		m.terminated.Set(1)
	}
}

// ObserveDeath counts a removed agent.
func (m *Metrics) ObserveDeath(d telemetry.DeathRecord) {
	m.deaths.WithLabelValues(d.AgentType, d.Cause).Inc()
}

// StorageLabel names a storage in the storage label: type and agent id.
func StorageLabel(storageType string, id uint64) string {
	return fmt.Sprintf("%s_%d", storageType, id)
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
