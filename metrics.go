package raft

import "github.com/prometheus/client_golang/prometheus"

const namespace = "raft"

// Metrics holds the prometheus collectors maintained by a node.
type Metrics struct {
	ElectionsStarted  prometheus.Counter
	LeaderTransitions prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	EntriesAppended   prometheus.Counter
	EntriesApplied    prometheus.Counter

	CurrentTerm prometheus.Gauge
	CommitIndex prometheus.Gauge
	NodeState   prometheus.Gauge
}

// NewMetrics returns an initialized, unregistered set of collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		ElectionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_started_total",
			Help:      "Number of elections started by this node.",
		}),
		LeaderTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leader_transitions_total",
			Help:      "Number of times this node became leader.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Number of AppendEntries broadcasts sent while leader.",
		}),
		EntriesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_appended_total",
			Help:      "Number of entries appended to the local log.",
		}),
		EntriesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_applied_total",
			Help:      "Number of committed entries delivered to the state machine.",
		}),
		CurrentTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_term",
			Help:      "Current election term.",
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commit_index",
			Help:      "Highest log index known to be committed.",
		}),
		NodeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current node state: 0=follower, 1=candidate, 2=leader.",
		}),
	}
}

// PrometheusCollectors returns all collectors for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ElectionsStarted,
		m.LeaderTransitions,
		m.HeartbeatsSent,
		m.EntriesAppended,
		m.EntriesApplied,
		m.CurrentTerm,
		m.CommitIndex,
		m.NodeState,
	}
}
