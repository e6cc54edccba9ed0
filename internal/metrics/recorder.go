// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Recorder owns the collectors of one process. Each instance registers on its own
// registry so tests can create as many as they like.
type Recorder struct {
	Registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	events        prometheus.Counter
	lifecycles    *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	cohortDefault prometheus.Counter
	guarded       prometheus.Counter
	rowsWritten   *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_runs_total",
			Help: "Pre-computation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "admira", Name: "precompute_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_events_total",
			Help: "Events read from the attributed event store.",
		}),
		lifecycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_lifecycles_total",
			Help: "Classified lifecycles by disposition.",
		}, []string{"disposition"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_skipped_events_total",
			Help: "Events dropped before classification, by reason.",
		}, []string{"reason"}),
		cohortDefault: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_cohort_defaults_total",
			Help: "Lifecycles that fell back to default rates.",
		}),
		guarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_guarded_divisions_total",
			Help: "Cells whose accuracy adjustment was skipped for a zero ratio.",
		}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admira", Name: "precompute_rows_written_total",
			Help: "Grid rows published, by grid.",
		}, []string{"grid"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "admira", Name: "precompute_last_success_timestamp_seconds",
			Help: "Unix time of the last published generation.",
		}),
	}
	r.Registry.MustRegister(r.runs, r.runDuration, r.events, r.lifecycles, r.skipped,
		r.cohortDefault, r.guarded, r.rowsWritten, r.lastSuccess)
	return r
}

// RunStats is what a finished run reports to the recorder.
type RunStats struct {
	Events           int
	Skipped          map[string]int
	Lifecycles       map[string]int
	CohortDefaults   int
	GuardedDivisions int
	OverallRows      int
	BreakdownRows    int
}

func (r *Recorder) RunFinished(outcome string, took time.Duration, s RunStats) {
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(took.Seconds())
	r.events.Add(float64(s.Events))
	for reason, n := range s.Skipped {
		r.skipped.WithLabelValues(reason).Add(float64(n))
	}
	for d, n := range s.Lifecycles {
		r.lifecycles.WithLabelValues(d).Add(float64(n))
	}
	r.cohortDefault.Add(float64(s.CohortDefaults))
	r.guarded.Add(float64(s.GuardedDivisions))
	if outcome == OutcomeSuccess {
		r.rowsWritten.WithLabelValues("overall").Add(float64(s.OverallRows))
		r.rowsWritten.WithLabelValues("breakdown").Add(float64(s.BreakdownRows))
		r.lastSuccess.SetToCurrentTime()
	}
}

// RunRejected counts a trigger refused because another run was active.
func (r *Recorder) RunRejected() {
	r.runs.WithLabelValues(OutcomeRejected).Inc()
}
