package observability

import "time"

// MetricsRegistry decouples components from the global Prometheus metrics so
// tests can inject a no-op implementation.
type MetricsRegistry interface {
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	IncrementAdRequests(outcome string)
	RecordSelectionLatency(duration time.Duration)

	IncrementClicks(status, reason string)
	IncrementImpressions(status string)
	AddSpend(campaign string, amount float64)
	IncrementRateLimitHits()
}

// PrometheusRegistry implements MetricsRegistry on the registered globals.
type PrometheusRegistry struct{}

func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdRequests(outcome string) {
	AdRequestCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordSelectionLatency(duration time.Duration) {
	SelectionLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementClicks(status, reason string) {
	ClickCount.WithLabelValues(status, reason).Inc()
}

func (r *PrometheusRegistry) IncrementImpressions(status string) {
	ImpressionCount.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) AddSpend(campaign string, amount float64) {
	SpendTotal.WithLabelValues(campaign).Add(amount)
}

func (r *PrometheusRegistry) IncrementRateLimitHits() {
	RateLimitHits.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing.
type NoOpRegistry struct{}

func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementAdRequests(outcome string)                                   {}
func (r *NoOpRegistry) RecordSelectionLatency(duration time.Duration)                        {}
func (r *NoOpRegistry) IncrementClicks(status, reason string)                                {}
func (r *NoOpRegistry) IncrementImpressions(status string)                                   {}
func (r *NoOpRegistry) AddSpend(campaign string, amount float64)                             {}
func (r *NoOpRegistry) IncrementRateLimitHits()                                              {}
