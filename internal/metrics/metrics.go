// Package metrics reports chat relay activity to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the relay's collectors. All methods are safe for
// concurrent use; requests share one Recorder.
type Recorder struct {
	requests    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	chunks      prometheus.Counter
	bytes       prometheus.Counter
	inflight    prometheus.Gauge
	rateLimited prometheus.Counter
}

// NewRecorder creates the collectors and registers them on reg. provider is
// attached to every series as a constant label.
func NewRecorder(reg prometheus.Registerer, provider string) (*Recorder, error) {
	if reg == nil {
		return nil, fmt.Errorf("prometheus registerer is nil")
	}
	labels := prometheus.Labels{"provider": provider}

	r := &Recorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reseply_chat_requests_total",
			Help:        "Chat relay requests by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "reseply_chat_request_duration_seconds",
			Help:        "Time from request to the end of the relayed stream",
			ConstLabels: labels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reseply_chat_chunks_total",
			Help:        "Chunks forwarded from the provider to clients",
			ConstLabels: labels,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reseply_chat_stream_bytes_total",
			Help:        "Bytes forwarded from the provider to clients",
			ConstLabels: labels,
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "reseply_chat_inflight_requests",
			Help:        "Chat requests currently being served",
			ConstLabels: labels,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reseply_chat_rate_limited_total",
			Help:        "Chat requests rejected by the rate limiter",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{r.requests, r.durations, r.chunks, r.bytes, r.inflight, r.rateLimited} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// RequestStarted marks a chat request as in flight. Every call must be
// paired with ObserveOutcome.
func (r *Recorder) RequestStarted() {
	r.inflight.Inc()
}

// ObserveOutcome records how a request ended and how long it took.
func (r *Recorder) ObserveOutcome(outcome string, d time.Duration) {
	r.inflight.Dec()
	r.requests.WithLabelValues(outcome).Inc()
	r.durations.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveChunk counts one forwarded chunk of n bytes.
func (r *Recorder) ObserveChunk(n int) {
	r.chunks.Inc()
	r.bytes.Add(float64(n))
}

// ObserveRateLimited counts a request the limiter turned away.
func (r *Recorder) ObserveRateLimited() {
	r.rateLimited.Inc()
}
