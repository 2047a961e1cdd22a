package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ForecastCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_cache_requests_total",
		Help: "Forecast cache lookups by result (hit, miss, shared)",
	}, []string{"result"})

	GeoCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_cache_requests_total",
		Help: "City resolution cache lookups by result",
	}, []string{"result"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Duration of calls to geocoding and forecast providers",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation", "status"})

	UpstreamRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_request_total",
		Help: "Calls to geocoding and forecast providers",
	}, []string{"provider", "operation", "status"})

	SchedulerWakes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_wakes_total",
		Help: "Notification scheduler wake cycles",
	})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_deliveries_total",
		Help: "Scheduled forecast deliveries by outcome",
	}, []string{"status"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ForecastCacheTotal,
		GeoCacheTotal,
		UpstreamRequestDuration,
		UpstreamRequestTotal,
		SchedulerWakes,
		Deliveries,
	)
}

// ObserveUpstream records duration and status of a provider call.
func ObserveUpstream(provider, operation string, start time.Time, err error) {
	if provider == "" {
		provider = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	UpstreamRequestDuration.WithLabelValues(provider, operation, status).Observe(time.Since(start).Seconds())
	UpstreamRequestTotal.WithLabelValues(provider, operation, status).Inc()
}
