package observability

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// PromObs backs the Observability port with Prometheus metrics and stdlib
// logging.
type PromObs struct {
	verbose bool

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	failures *prometheus.CounterVec
}

func NewPromObs(verbose bool) *PromObs {
	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfwdaq_attempts_total",
		Help: "Collection cycles that reached the download phase.",
	})
	snapshots := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfwdaq_snapshots_total",
		Help: "Validated snapshots successfully persisted.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rfwdaq_failures_total",
		Help: "Per-cycle failures by cavity and failure kind.",
	}, []string{"cavity", "kind"})
	workers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rfwdaq_workers_active",
		Help: "Workers currently collecting.",
	})
	snapshotWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rfwdaq_snapshot_wait_seconds",
		Help:    "Time from stable operating point to a validated snapshot.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	prometheus.MustRegister(attempts, snapshots, failures, workers, snapshotWait)

	return &PromObs{
		verbose: verbose,
		counters: map[string]prometheus.Counter{
			"rfwdaq_attempts_total":  attempts,
			"rfwdaq_snapshots_total": snapshots,
		},
		gauges: map[string]prometheus.Gauge{
			"rfwdaq_workers_active": workers,
		},
		histos: map[string]prometheus.Observer{
			"rfwdaq_snapshot_wait_seconds": snapshotWait,
		},
		failures: failures,
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	if p.verbose {
		log.Printf("INFO: %s%s", msg, renderFields(fields))
	}
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, renderFields(fields))
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, renderFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) RecordFailure(cavity, kind string) {
	p.failures.WithLabelValues(cavity, kind).Inc()
}

func renderFields(fields []ports.Field) string {
	out := ""
	for _, f := range fields {
		out += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
