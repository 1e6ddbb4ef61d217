package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rewardsMetricsOnce sync.Once
	rewardsRegistry    *RewardsdMetrics
)

// RewardsdMetrics wraps collectors tracking coordination-core health.
type RewardsdMetrics struct {
	settlements       *prometheus.CounterVec
	settlementLatency *prometheus.HistogramVec
	awards            *prometheus.CounterVec
	fraudRejections   *prometheus.CounterVec
	bonusClaims       *prometheus.CounterVec
}

// Rewardsd exposes the metrics registry for rewardsd.
func Rewardsd() *RewardsdMetrics {
	rewardsMetricsOnce.Do(func() {
		rewardsRegistry = &RewardsdMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "viewrewards",
				Subsystem: "settlement",
				Name:      "instructions_total",
				Help:      "Settlement instructions sent to the ledger, segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			settlementLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "viewrewards",
				Subsystem: "settlement",
				Name:      "latency_seconds",
				Help:      "Latency distribution for ledger settlement calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			awards: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "viewrewards",
				Subsystem: "achievements",
				Name:      "awards_total",
				Help:      "Badge awards segmented by badge and settlement outcome.",
			}, []string{"badge", "outcome"}),
			fraudRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "viewrewards",
				Subsystem: "devices",
				Name:      "rejections_total",
				Help:      "Device registrations rejected by the binding invariant.",
			}, []string{"reason"}),
			bonusClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "viewrewards",
				Subsystem: "sessions",
				Name:      "bonus_claims_total",
				Help:      "Binge bonus claims segmented by threshold.",
			}, []string{"threshold"}),
		}
		prometheus.MustRegister(
			rewardsRegistry.settlements,
			rewardsRegistry.settlementLatency,
			rewardsRegistry.awards,
			rewardsRegistry.fraudRejections,
			rewardsRegistry.bonusClaims,
		)
	})
	return rewardsRegistry
}

// RecordSettlement counts one ledger instruction outcome.
func (m *RewardsdMetrics) RecordSettlement(operation, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveSettlementLatency records how long a ledger call took.
func (m *RewardsdMetrics) ObserveSettlementLatency(operation string, duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.settlementLatency.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// RecordAward counts one badge award.
func (m *RewardsdMetrics) RecordAward(badge, outcome string) {
	if m == nil {
		return
	}
	m.awards.WithLabelValues(normalizeLabel(badge), normalizeLabel(outcome)).Inc()
}

// RecordFraudRejection counts one rejected device registration.
func (m *RewardsdMetrics) RecordFraudRejection(reason string) {
	if m == nil {
		return
	}
	m.fraudRejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

// RecordBonusClaim counts one settled binge threshold.
func (m *RewardsdMetrics) RecordBonusClaim(threshold string) {
	if m == nil {
		return
	}
	m.bonusClaims.WithLabelValues(normalizeLabel(threshold)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
