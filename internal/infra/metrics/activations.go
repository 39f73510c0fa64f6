package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(activationsTotal, channelOutcomesTotal, channelDurationSeconds, matchRatePercent)
}

var activationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activations_total",
		Help: "Completed activation requests, labeled by overall status.",
	},
	[]string{"status"}, // 'active', 'partial', 'failed'
)

var channelOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activation_channel_outcomes_total",
		Help: "Terminal channel lifecycle outcomes per platform.",
	},
	[]string{"platform", "status"}, // 'active', 'failed'
)

var channelDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "activation_channel_duration_seconds",
		Help:    "Wall time of one channel lifecycle from pending to terminal.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
	[]string{"platform"},
)

var matchRatePercent = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "activation_match_rate_percent",
		Help:    "Reported or derived match rate per platform.",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	},
	[]string{"platform"},
)

func IncActivation(status string) {
	activationsTotal.WithLabelValues(norm(status)).Inc()
}

func IncChannelOutcome(platform, status string) {
	channelOutcomesTotal.WithLabelValues(norm(platform), norm(status)).Inc()
}

func ObserveChannelDuration(platform string, seconds float64) {
	channelDurationSeconds.WithLabelValues(norm(platform)).Observe(seconds)
}

func ObserveMatchRate(platform string, rate float64) {
	matchRatePercent.WithLabelValues(norm(platform)).Observe(rate)
}
