package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kvdb"

// register is a no-op for a nil registerer, so components can be built in
// tests without a registry.
func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		return
	}
	for _, c := range cs {
		reg.MustRegister(c)
	}
}

// Replication counts what happens to statements on a leader, per follower.
type Replication struct {
	Enqueued   *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	Delivered  *prometheus.CounterVec
	Failed     *prometheus.CounterVec
	QueueDepth *prometheus.GaugeVec
}

func NewReplication(reg prometheus.Registerer) *Replication {
	m := &Replication{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "enqueued_total",
			Help:      "Statements queued for a follower.",
		}, []string{"target"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "dropped_total",
			Help:      "Statements dropped because the follower queue was full.",
		}, []string{"target"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "delivered_total",
			Help:      "Statements acknowledged by a follower.",
		}, []string{"target"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "failed_total",
			Help:      "Statements a follower did not acknowledge.",
		}, []string{"target"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "queue_depth",
			Help:      "Statements waiting in a follower queue.",
		}, []string{"target"}),
	}
	register(reg, m.Enqueued, m.Dropped, m.Delivered, m.Failed, m.QueueDepth)
	return m
}

// Forget removes the series of a follower that is no longer a target.
func (m *Replication) Forget(target string) {
	m.Enqueued.DeleteLabelValues(target)
	m.Dropped.DeleteLabelValues(target)
	m.Delivered.DeleteLabelValues(target)
	m.Failed.DeleteLabelValues(target)
	m.QueueDepth.DeleteLabelValues(target)
}

// Cluster tracks membership and topology events.
type Cluster struct {
	Role            *prometheus.GaugeVec
	RoleChanges     prometheus.Counter
	SessionEvents   *prometheus.CounterVec
	TopologyUpdates prometheus.Counter
	Leaders         prometheus.Gauge
}

func NewCluster(reg prometheus.Registerer) *Cluster {
	m := &Cluster{
		Role: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "role",
			Help:      "1 for the role this member currently holds.",
		}, []string{"role"}),
		RoleChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "role_changes_total",
			Help:      "Role transitions observed by this member.",
		}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "session_events_total",
			Help:      "Coordination session state changes.",
		}, []string{"state"}),
		TopologyUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "topology_updates_total",
			Help:      "Topology snapshots published by the router.",
		}),
		Leaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "partitions_with_leader",
			Help:      "Partitions that currently have a known leader.",
		}),
	}
	register(reg, m.Role, m.RoleChanges, m.SessionEvents, m.TopologyUpdates, m.Leaders)
	return m
}

// SetRole marks exactly one role as active.
func (m *Cluster) SetRole(role string) {
	for _, r := range []string{"leader", "follower", "candidate"} {
		v := 0.0
		if r == role {
			v = 1
		}
		m.Role.WithLabelValues(r).Set(v)
	}
}

// HTTP instruments the request handlers of a server.
type HTTP struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer, server string) *HTTP {
	constLabels := prometheus.Labels{"server": server}
	m := &HTTP{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Handled HTTP requests.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "Latency of handled HTTP requests.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	register(reg, m.Requests, m.Duration)
	return m
}

// RegisterStoreStats exposes store gauges that are read on scrape.
func RegisterStoreStats(reg prometheus.Registerer, keys func() float64, fileBytes func() float64) {
	register(reg,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "keys",
			Help:      "Live keys in the index.",
		}, keys),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "file_bytes",
			Help:      "Size of the data file.",
		}, fileBytes),
	)
}
