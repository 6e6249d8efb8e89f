package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "handyhub", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "handyhub", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "handyhub", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "handyhub", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "handyhub", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	FanoutEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "handyhub", Name: "fanout_events_total", Help: "Fan-out publishes, deliveries and drops."},
		[]string{"event"}, // event: published|delivered|dropped|publish_failed
	)
	FanoutSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "handyhub", Name: "fanout_subscribers", Help: "Open conversation subscriptions."},
	)
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "handyhub", Name: "engagement_transitions_total", Help: "Engagement status transitions."},
		[]string{"to"},
	)
	ReviewsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "handyhub", Name: "reviews_submitted_total", Help: "Accepted reviews."},
	)
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "handyhub", Name: "breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)."},
		[]string{"name"},
	)
)

// Serve exposes reg on addr in the background. Empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		FanoutEvents, FanoutSubscribers, Transitions, ReviewsSubmitted, BreakerState)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveFanout(event string) { FanoutEvents.WithLabelValues(event).Inc() }

func ObserveTransition(to string) { Transitions.WithLabelValues(to).Inc() }
