package acquire

import (
	"time"

	"github.com/zeromicro/go-zero/core/metric"

	"equityfeed/pkg/race"
)

const metricNamespace = "equityfeed"

const (
	outcomeFresh    = "fresh"
	outcomeFetched  = "fetched"
	outcomeStale    = "stale"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

var (
	acquireOutcomes = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "acquire",
		Name:      "outcomes_total",
		Help:      "acquisition outcomes by kind",
		Labels:    []string{"kind", "outcome"},
	})
	acquireDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: metricNamespace,
		Subsystem: "acquire",
		Name:      "duration_ms",
		Help:      "acquisition latency in milliseconds",
		Labels:    []string{"kind", "outcome"},
		Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
	})
	providerAttempts = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "provider",
		Name:      "attempts_total",
		Help:      "provider attempts by result",
		Labels:    []string{"provider", "pass", "result"},
	})
)

func observeOutcome(kind, outcome string, elapsed time.Duration) {
	acquireOutcomes.Inc(kind, outcome)
	acquireDuration.Observe(elapsed.Milliseconds(), kind, outcome)
}

// ObserveAttempt records a provider attempt; pass it to race.WithObserver.
func ObserveAttempt(provider string, pass race.Pass, _ time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerAttempts.Inc(provider, string(pass), result)
}
