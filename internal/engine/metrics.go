package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts commits, rollbacks and snapshot deliveries.
type Metrics struct {
	commits   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	snapshots *prometheus.CounterVec
	stale     prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them on reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commonbox",
			Subsystem: "engine",
			Name:      "commits_total",
			Help:      "Mutations committed, by operation and result.",
		}, []string{"op", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commonbox",
			Subsystem: "engine",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations undone after a failed remote commit.",
		}, []string{"op"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commonbox",
			Subsystem: "engine",
			Name:      "snapshots_total",
			Help:      "Realtime snapshots applied, by topic.",
		}, []string{"topic"}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commonbox",
			Subsystem: "engine",
			Name:      "stale_snapshots_total",
			Help:      "Snapshots discarded because their listener was detached.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commits, m.rollbacks, m.snapshots, m.stale)
	}
	return m
}

// Commits exposes the commit counter.
func (m *Metrics) Commits() *prometheus.CounterVec { return m.commits }

// Rollbacks exposes the rollback counter.
func (m *Metrics) Rollbacks() *prometheus.CounterVec { return m.rollbacks }

// Snapshots exposes the applied snapshot counter.
func (m *Metrics) Snapshots() *prometheus.CounterVec { return m.snapshots }

// Stale exposes the discarded snapshot counter.
func (m *Metrics) Stale() prometheus.Counter { return m.stale }
