// Package metrics exposes Prometheus collectors for the speech pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fluently"

var (
	// pipelineRequestsTotal counts /api calls by step and outcome.
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Total number of speech pipeline requests",
		},
		[]string{"step", "status"}, // status: success, error
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_request_duration_seconds",
			Help:      "Duration of speech pipeline requests in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"step"},
	)

	ttsFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_fallbacks_total",
			Help:      "Replies spoken by the local voice because synthesis was unavailable",
		},
	)

	grammarCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grammar_cache_lookups_total",
			Help:      "Grammar check cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	avatarTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveavatar_tokens_total",
			Help:      "Live avatar session tokens issued",
		},
		[]string{"status"},
	)

	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active practice sessions",
		},
		[]string{"transport"}, // transport: rtc, phone
	)

	allMetrics = []prometheus.Collector{
		pipelineRequestsTotal,
		pipelineDuration,
		ttsFallbacksTotal,
		grammarCacheTotal,
		avatarTokensTotal,
		sessionsActive,
	}

	registry = newRegistry()
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObservePipeline records one pipeline step.
func ObservePipeline(step string, started time.Time, err error) {
	pipelineRequestsTotal.WithLabelValues(step, status(err)).Inc()
	pipelineDuration.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

func RecordTTSFallback() { ttsFallbacksTotal.Inc() }

func RecordGrammarCache(hit bool) {
	if hit {
		grammarCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	grammarCacheTotal.WithLabelValues("miss").Inc()
}

func RecordAvatarToken(err error) { avatarTokensTotal.WithLabelValues(status(err)).Inc() }

// SessionStarted increments the active gauge and returns the matching decrement.
func SessionStarted(transport string) (done func()) {
	g := sessionsActive.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
