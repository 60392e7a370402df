package obs

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics groups the collectors observed by HTTPObs.
type HTTPMetrics struct {
	Requests  *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
	InFlight  prometheus.Gauge
	BodyBytes *prometheus.HistogramVec
}

var defaultLatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// NewHTTPMetrics registers HTTP collectors on reg, reusing collectors that are already
// registered under the same names.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	} else {
		buckets = append([]float64(nil), buckets...)
		sort.Float64s(buckets)
	}
	return &HTTPMetrics{
		Requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "class"})),
		Latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"})),
		InFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "HTTP requests currently being served.",
		})),
		BodyBytes: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_bytes",
			Help:      "Response body size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 7),
		}, []string{"route"})),
	}
}

// StatusClass buckets a status code into 1xx..5xx.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

// ParseBucketsCSV reads comma-separated positive bucket boundaries in milliseconds.
// Invalid entries are skipped.
func ParseBucketsCSV(csv string) []float64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []float64
	for _, part := range strings.Split(csv, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts d to fractional milliseconds.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// register adds c to reg. When an equal collector is already registered the existing one is
// returned so handlers built twice in one process share their series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(fmt.Errorf("obs: register collector: %w", err))
}
