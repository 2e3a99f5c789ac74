// Package metrics provides prometheus instrumentation for the swarm
// coordination services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the swarm metric families.
type Collector struct {
	taskTransitions  *prometheus.CounterVec
	handoffOutcomes  *prometheus.CounterVec
	votesSubmitted   *prometheus.CounterVec
	consensusResults *prometheus.CounterVec
	contributions    prometheus.Counter
	broadcasts       *prometheus.CounterVec
	agentStatus      *prometheus.GaugeVec
	sweepDuration    prometheus.Histogram
	generateDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the swarm metric families on reg. A nil registerer
// uses the default prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.taskTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task status transitions",
		},
		[]string{"status"},
	)

	c.handoffOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_outcomes_total",
			Help:      "Total number of handoffs by terminal outcome",
		},
		[]string{"outcome"},
	)

	c.votesSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_submitted_total",
			Help:      "Total number of consensus votes submitted",
		},
		[]string{"result"},
	)

	c.consensusResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_resolutions_total",
			Help:      "Total number of consensus resolutions by reason",
		},
		[]string{"reason"},
	)

	c.contributions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaboration_contributions_total",
			Help:      "Total number of collaboration contributions recorded",
		},
	)

	c.broadcasts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Total number of broadcast deliveries by result",
		},
		[]string{"result"},
	)

	c.agentStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_by_status",
			Help:      "Current number of agents per status",
		},
		[]string{"status"},
	)

	c.sweepDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweep runs",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.generateDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_duration_seconds",
			Help:      "Duration of external generation calls",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	return c
}

// TaskTransition records a task entering status.
func (c *Collector) TaskTransition(status string) {
	if c == nil {
		return
	}
	c.taskTransitions.WithLabelValues(status).Inc()
}

// HandoffOutcome records a handoff reaching a terminal outcome.
func (c *Collector) HandoffOutcome(outcome string) {
	if c == nil {
		return
	}
	c.handoffOutcomes.WithLabelValues(outcome).Inc()
}

// VoteSubmitted records a vote submission attempt.
func (c *Collector) VoteSubmitted(result string) {
	if c == nil {
		return
	}
	c.votesSubmitted.WithLabelValues(result).Inc()
}

// ConsensusResolved records a consensus resolution.
func (c *Collector) ConsensusResolved(reason string) {
	if c == nil {
		return
	}
	c.consensusResults.WithLabelValues(reason).Inc()
}

// Contribution records a collaboration contribution.
func (c *Collector) Contribution() {
	if c == nil {
		return
	}
	c.contributions.Inc()
}

// BroadcastDelivery records one delivery attempt of a broadcast.
func (c *Collector) BroadcastDelivery(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.broadcasts.WithLabelValues(result).Inc()
}

// SetAgentStatusCount sets the gauge for one agent status.
func (c *Collector) SetAgentStatusCount(status string, n int) {
	if c == nil {
		return
	}
	c.agentStatus.WithLabelValues(status).Set(float64(n))
}

// ObserveSweep records the duration of one sweep run.
func (c *Collector) ObserveSweep(d time.Duration) {
	if c == nil {
		return
	}
	c.sweepDuration.Observe(d.Seconds())
}

// ObserveGenerate records the duration of one generation call.
func (c *Collector) ObserveGenerate(d time.Duration, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.generateDuration.WithLabelValues(status).Observe(d.Seconds())
}
