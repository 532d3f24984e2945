// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comsy"

// Recorder owns every collector. A nil *Recorder records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	// Admissions counts booking submissions by outcome.
	Admissions *prometheus.CounterVec

	// Cancellations counts cancel attempts by outcome.
	Cancellations *prometheus.CounterVec

	// SweepTransitions counts booking status changes made by sweeps.
	SweepTransitions prometheus.Counter

	// SweepReflags counts computer status changes made by sweeps.
	SweepReflags prometheus.Counter

	// SweepDuration is the wall time of one sweep, in seconds.
	SweepDuration prometheus.Histogram

	// LiveClients is the number of connected websocket clients.
	LiveClients prometheus.Gauge

	// LiveRelayed counts relayed messages by kind, one per recipient.
	LiveRelayed *prometheus.CounterVec

	// LiveDropped counts inbound or outbound messages dropped, by reason.
	LiveDropped *prometheus.CounterVec

	// HTTPRequests counts handled requests by route and status code.
	HTTPRequests *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		gatherer: reg,
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_admissions_total",
			Help:      "Booking submissions by outcome.",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_cancellations_total",
			Help:      "Booking cancellations by outcome.",
		}, []string{"outcome"}),
		SweepTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Booking status transitions applied by lifecycle sweeps.",
		}),
		SweepReflags: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_reflags_total",
			Help:      "Computer operational status changes applied by lifecycle sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_sweep_duration_seconds",
			Help:      "Duration of lifecycle sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected live broadcast clients.",
		}),
		LiveRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_messages_relayed_total",
			Help:      "Messages delivered to live clients, by kind.",
		}, []string{"kind"}),
		LiveDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_messages_dropped_total",
			Help:      "Live messages dropped, by reason.",
		}, []string{"reason"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
	}

	reg.MustRegister(
		r.Admissions,
		r.Cancellations,
		r.SweepTransitions,
		r.SweepReflags,
		r.SweepDuration,
		r.LiveClients,
		r.LiveRelayed,
		r.LiveDropped,
		r.HTTPRequests,
	)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) AdmissionResult(outcome string) {
	if r == nil {
		return
	}
	r.Admissions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) CancelResult(outcome string) {
	if r == nil {
		return
	}
	r.Cancellations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SweepCompleted(transitioned, reflagged int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.SweepTransitions.Add(float64(transitioned))
	r.SweepReflags.Add(float64(reflagged))
	r.SweepDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ClientConnected() {
	if r == nil {
		return
	}
	r.LiveClients.Inc()
}

func (r *Recorder) ClientDisconnected() {
	if r == nil {
		return
	}
	r.LiveClients.Dec()
}

func (r *Recorder) MessageRelayed(kind string, recipients int) {
	if r == nil {
		return
	}
	r.LiveRelayed.WithLabelValues(kind).Add(float64(recipients))
}

func (r *Recorder) MessageDropped(reason string) {
	if r == nil {
		return
	}
	r.LiveDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RequestHandled(route, method string, code int) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
