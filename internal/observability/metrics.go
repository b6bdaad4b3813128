package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediator_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// ad requests by outcome (filled, or the unfilled reason)
	AdRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_ad_requests_total",
			Help: "Total partner ad requests by outcome",
		},
		[]string{"outcome"},
	)

	// selection pipeline latency
	SelectionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediator_selection_duration_seconds",
			Help:    "Duration of ad selection calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// clicks by decision status and reject reason
	ClickCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_clicks_total",
			Help: "Total tracked clicks by decision",
		},
		[]string{"status", "reason"},
	)

	// impressions by status (ACCEPTED or DEDUPED)
	ImpressionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_impressions_total",
			Help: "Total impression events",
		},
		[]string{"status"},
	)

	// spend accumulated per campaign from accepted clicks
	SpendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_spend_total",
			Help: "Total spend recorded per campaign",
		},
		[]string{"campaign"},
	)

	// click rate limiter refusals
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediator_ratelimit_hits_total",
			Help: "Total clicks refused by the rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		AdRequestCount,
		SelectionLatency,
		ClickCount,
		ImpressionCount,
		SpendTotal,
		RateLimitHits,
	)
}
