package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"taskmgr/internal/domain"
)

const namespace = "taskmgr"

// Metrics groups the task manager collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	processed      *prometheus.CounterVec
	expired        prometheus.Counter
	removed        prometheus.Counter
	lockContention prometheus.Counter
	pending        prometheus.Gauge
	cycle          prometheus.Histogram
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Tasks processed, by task type.",
		}, []string{"type"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_expired_total",
			Help:      "Remote command tasks marked expired.",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_removed_total",
			Help:      "Terminal tasks deleted by the cleanup sweep.",
		}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_lock_contention_total",
			Help:      "Close-problem tasks postponed because the trigger was locked.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "New and in-progress tasks seen by the last cycle.",
		}),
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one dispatch cycle.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.expired, m.removed, m.lockContention, m.pending, m.cycle)
	}
	return m
}

func (m *Metrics) Processed(t domain.TaskType, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(t.String()).Add(float64(n))
}

func (m *Metrics) Expired() {
	if m != nil {
		m.expired.Inc()
	}
}

func (m *Metrics) Removed(n int64) {
	if m != nil && n > 0 {
		m.removed.Add(float64(n))
	}
}

func (m *Metrics) LockContention() {
	if m != nil {
		m.lockContention.Inc()
	}
}

func (m *Metrics) Cycle(pending int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.cycle.Observe(elapsed.Seconds())
}
