package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Recorder with Prometheus collectors.
type Prometheus struct {
	dispatches *prometheus.CounterVec
	placements prometheus.Counter
	suppressed *prometheus.CounterVec
	flushes    *prometheus.CounterVec
	flushTime  prometheus.Histogram
	programs   prometheus.Gauge
	windows    prometheus.Gauge
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates and registers the collectors. A nil registerer uses
// prometheus.DefaultRegisterer; an empty namespace defaults to "nest".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "nest"
	}

	p := &Prometheus{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Compositor commands issued, by command and result.",
		}, []string{"command", "result"}),
		placements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_recorded_total",
			Help:      "User-initiated workspace moves added to program history.",
		}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoes_suppressed_total",
			Help:      "Events ignored because the daemon caused them, by kind.",
		}, []string{"kind"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "flushes_total",
			Help:      "Persistence flush attempts by result.",
		}, []string{"result"}),
		flushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing the state backend.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		programs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "programs",
			Help:      "Programs with an affinity record.",
		}),
		windows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "windows",
			Help:      "Live windows being tracked.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.dispatches, p.placements, p.suppressed, p.flushes, p.flushTime, p.programs, p.windows,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (p *Prometheus) Dispatch(command string, ok bool) {
	p.dispatches.WithLabelValues(command, result(ok)).Inc()
}

func (p *Prometheus) PlacementRecorded() {
	p.placements.Inc()
}

func (p *Prometheus) EchoSuppressed(kind string) {
	p.suppressed.WithLabelValues(kind).Inc()
}

func (p *Prometheus) Flush(ok bool, took time.Duration) {
	p.flushes.WithLabelValues(result(ok)).Inc()
	if ok {
		p.flushTime.Observe(took.Seconds())
	}
}

func (p *Prometheus) Tracked(programs, windows int) {
	p.programs.Set(float64(programs))
	p.windows.Set(float64(windows))
}
