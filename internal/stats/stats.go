// Package stats exports the gateway's Prometheus metrics surface (spec §6),
// grounded on the teacher's stats package naming convention ("*.n" counters,
// "*.ns" latencies) but wired through promauto instead of the teacher's
// StatsD-oriented NamedVal64 aggregator, since the spec calls for a
// Prometheus-style /metrics endpoint rather than StatsD.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats aggregates every counter and histogram named in spec §6. All fields
// are concurrent-safe out of the box (prometheus vectors use internal
// locking), matching the "shared, concurrent-safe aggregates" requirement
// of spec §5.
type Stats struct {
	RequestsTotal      *prometheus.CounterVec
	TimeToFirstByteMS  *prometheus.HistogramVec
	RequestDurationMS  *prometheus.HistogramVec
	BytesInTotal       prometheus.Counter
	BytesOutTotal      prometheus.Counter
	BytesDeletedTotal  prometheus.Counter
	DirsDeletedTotal   prometheus.Counter
	ReapedSlotsTotal   prometheus.Counter
	ThrottledTotal     prometheus.Counter
}

// New registers every metric against reg and returns the aggregate. Pass
// prometheus.NewRegistry() in tests to avoid collisions with package-level
// global state.
func New(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mantagw_requests_total",
			Help: "Completed requests by operation, method and status code.",
		}, []string{"operation", "method", "status_code"}),
		TimeToFirstByteMS: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mantagw_time_to_first_byte_ms",
			Help:    "Time to first response byte, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"operation", "method", "status_code"}),
		RequestDurationMS: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mantagw_request_duration_ms",
			Help:    "Total request duration, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 20),
		}, []string{"operation", "method", "status_code"}),
		BytesInTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mantagw_bytes_in_total",
			Help: "Bytes streamed in from clients.",
		}),
		BytesOutTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mantagw_bytes_out_total",
			Help: "Bytes streamed out to clients.",
		}),
		BytesDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mantagw_bytes_deleted_total",
			Help: "Bytes deleted across all DELETE operations (content_length * len(sharks)).",
		}),
		DirsDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mantagw_dirs_deleted_total",
			Help: "Directories deleted.",
		}),
		ReapedSlotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mantagw_admission_reaped_total",
			Help: "Admission-controller slots released by the reaper instead of by leave().",
		}),
		ThrottledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mantagw_throttled_total",
			Help: "Requests rejected by the admission controller.",
		}),
	}
}

// Observe records one completed request's metrics.
func (s *Stats) Observe(operation, method string, statusCode int, ttfbMS, durationMS float64) {
	status := statusLabel(statusCode)
	s.RequestsTotal.WithLabelValues(operation, method, status).Inc()
	s.TimeToFirstByteMS.WithLabelValues(operation, method, status).Observe(ttfbMS)
	s.RequestDurationMS.WithLabelValues(operation, method, status).Observe(durationMS)
}

func statusLabel(code int) string {
	const digits = "0123456789"
	if code <= 0 {
		return "0"
	}
	b := [4]byte{}
	i := len(b)
	for code > 0 && i > 0 {
		i--
		b[i] = digits[code%10]
		code /= 10
	}
	return string(b[i:])
}
