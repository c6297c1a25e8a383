package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IssueDuration tracks how long issuing a ticket or coupon takes, QR and insert included.
	IssueDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "entitlement_issue_duration_seconds",
			Help: "Duration of ticket/coupon issuance in seconds",
			Buckets: []float64{
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"kind", "status"},
	)

	RedemptionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_redemption_outcomes_total",
			Help: "Redemption attempts by outcome",
		},
		[]string{"outcome"},
	)

	RateGuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_guard_decisions_total",
			Help: "Rate guard decisions by action",
		},
		[]string{"action", "decision"},
	)

	EarlyNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "early_notifications_total",
			Help: "Early-access notifications by channel and result",
		},
		[]string{"channel", "result"},
	)
)

func RecordIssue(kind, status string, seconds float64) {
	IssueDuration.WithLabelValues(kind, status).Observe(seconds)
}

func RecordRedemption(outcome string) {
	RedemptionOutcomes.WithLabelValues(outcome).Inc()
}

func RecordRateGuardDecision(action, decision string) {
	RateGuardDecisions.WithLabelValues(action, decision).Inc()
}

func RecordEarlyNotification(channel, result string) {
	EarlyNotifications.WithLabelValues(channel, result).Inc()
}
