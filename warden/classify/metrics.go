package classify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var moderationAPIDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "warden_moderation_api_duration_sec",
	Help: "Duration of moderation API calls",
})

var moderationAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_moderation_api_count",
	Help: "Number of moderation API calls, by HTTP status code",
}, []string{"status"})

var moderationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_moderation_api_cache_hits",
	Help: "Number of messages answered from the moderation result cache",
})

var classifierFallbackCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_classifier_fallbacks",
	Help: "Number of times a primary classifier failed and its fallback was used",
}, []string{"primary"})
