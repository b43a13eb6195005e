package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_event_duration_sec",
	Help: "Total duration of moderation event processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_errors",
	Help: "Number of events which failed processing",
}, []string{"type"})

var eventSkippedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_skipped",
	Help: "Number of events dropped before classification, by reason",
}, []string{"reason"})

var classifierErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_classifier_errors",
	Help: "Number of classifier calls which returned an error",
}, []string{"classifier"})

var sanctionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_sanctions",
	Help: "Number of sanctions decided, by action and source",
}, []string{"action", "source"})

var violationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_violations",
	Help: "Number of violations recorded, by category",
}, []string{"category"})

var transportErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_transport_errors",
	Help: "Number of failed transport calls, by operation",
}, []string{"op"})

var banReversalCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_ban_reversals",
	Help: "Scheduled unbans, by result (lifted, stale, failed)",
}, []string{"result"})
