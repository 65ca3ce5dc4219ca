package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(stageDeliveriesTotal, stageDuration, deadLettersTotal, briefsPublishedTotal, redeliveriesReaped, staleDeliveriesTotal, scriptFallbacksTotal)
}

var (
	stageDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brief_stage_deliveries_total",
			Help: "Deliveries handled per stage, labeled by outcome (ack, retry, dead_letter).",
		},
		[]string{"stage", "outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brief_stage_duration_seconds",
			Help:    "Time spent handling one delivery, per stage.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	deadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brief_dead_letters_total",
			Help: "Deliveries moved to the dead-letter list, labeled by reason.",
		},
		[]string{"stage", "reason"},
	)

	briefsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brief_published_total",
			Help: "Brief rows committed by the publisher, labeled by type.",
		},
		[]string{"type"},
	)

	redeliveriesReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brief_visibility_expired_total",
			Help: "In-flight deliveries put back on the queue after their visibility timeout.",
		},
		[]string{"queue"},
	)

	staleDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brief_stale_deliveries_total",
			Help: "Deliveries acked without work because the job had already moved past the stage.",
		},
		[]string{"stage"},
	)

	scriptFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brief_script_template_fallbacks_total",
			Help: "Scripts replaced by the template after repeated invalid model output.",
		},
	)
)

func ObserveDelivery(stage, outcome string, d time.Duration) {
	stageDeliveriesTotal.WithLabelValues(norm(stage), norm(outcome)).Inc()
	stageDuration.WithLabelValues(norm(stage)).Observe(d.Seconds())
}

func IncDeadLetter(stage, reason string) {
	deadLettersTotal.WithLabelValues(norm(stage), norm(reason)).Inc()
}

func IncBriefPublished(briefType string) {
	briefsPublishedTotal.WithLabelValues(norm(briefType)).Inc()
}

func AddReaped(queue string, n int) {
	if n > 0 {
		redeliveriesReaped.WithLabelValues(queue).Add(float64(n))
	}
}

func IncStaleDelivery(stage string) {
	staleDeliveriesTotal.WithLabelValues(norm(stage)).Inc()
}

func IncScriptFallback() { scriptFallbacksTotal.Inc() }
