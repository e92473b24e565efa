package prometheus

import "time"

// Guard outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeRateLimited   = "rate_limited"
	OutcomeSuspicious    = "suspicious"
	OutcomeUnauthorized  = "unauthenticated"
	OutcomeForbidden     = "forbidden"
	OutcomeInvalid       = "invalid"
	OutcomeHandlerError  = "handler_error"
	OutcomeInternalError = "internal_error"
	OutcomeCancelled     = "cancelled"
)

// DefaultGuardDurationBuckets spans fast rejections to slow handlers.
var DefaultGuardDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// SecurityMetrics is the metric set recorded by the request guard and the
// rate-limit sweeper.
type SecurityMetrics struct {
	RequestsTotal      CounterVec
	RequestDuration    HistogramVec
	RateLimitRejected  CounterVec
	BucketsSwept       CounterVec
	ActiveRequests     GaugeVec
	QueryBuildFailures CounterVec
}

// NewSecurityMetrics registers the security metric set on c.
func NewSecurityMetrics(c MetricsCollector) *SecurityMetrics {
	return &SecurityMetrics{
		RequestsTotal: c.RegisterCounter("guard_requests_total",
			"Requests processed by the guard, by route and outcome.", "route", "outcome"),
		RequestDuration: c.RegisterHistogram("guard_request_duration_seconds",
			"Guarded request latency in seconds.", DefaultGuardDurationBuckets, "route"),
		RateLimitRejected: c.RegisterCounter("ratelimit_rejections_total",
			"Requests rejected by the rate limiter.", "route"),
		BucketsSwept: c.RegisterCounter("ratelimit_buckets_swept_total",
			"Expired rate-limit buckets removed by the sweeper."),
		ActiveRequests: c.RegisterGauge("guard_active_requests",
			"Requests currently inside the guard.", "route"),
		QueryBuildFailures: c.RegisterCounter("query_construction_failures_total",
			"Rejected query constructions, by error code.", "code"),
	}
}

// ObserveRequest records one finished request.
func (m *SecurityMetrics) ObserveRequest(route, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, outcome).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
	if outcome == OutcomeRateLimited {
		m.RateLimitRejected.WithLabelValues(route).Inc()
	}
}

// RequestStarted increments the in-flight gauge; the returned func undoes it.
func (m *SecurityMetrics) RequestStarted(route string) func() {
	if m == nil {
		return func() {}
	}
	g := m.ActiveRequests.WithLabelValues(route)
	g.Inc()
	return g.Dec
}

// ObserveSwept records buckets removed by one sweep.
func (m *SecurityMetrics) ObserveSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BucketsSwept.WithLabelValues().Add(float64(n))
}

// ObserveQueryFailure records a rejected query construction.
func (m *SecurityMetrics) ObserveQueryFailure(code string) {
	if m == nil {
		return
	}
	m.QueryBuildFailures.WithLabelValues(code).Inc()
}
