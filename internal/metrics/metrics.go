// Package metrics exposes the service's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safetour"

type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sosTriggered   *prometheus.CounterVec
	sosEscalations *prometheus.CounterVec
	sosTransitions *prometheus.CounterVec

	anomaliesDetected *prometheus.CounterVec
	autoSOS           prometheus.Counter

	safetyScore   prometheus.Histogram
	scoreFallback *prometheus.CounterVec

	locationPings *prometheus.CounterVec
	zoneEvents    *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec

	firsFiled       prometheus.Counter
	notifyFailures  *prometheus.CounterVec
	liveConnections prometheus.Gauge
}

// New registers every instrument with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		sosTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_triggered_total",
			Help:      "SOS events created, by trigger mode",
		}, []string{"mode"}),
		sosEscalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_escalations_total",
			Help:      "Escalation records written, by target",
		}, []string{"target"}),
		sosTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_transitions_total",
			Help:      "SOS status changes, by new status",
		}, []string{"status"}),

		anomaliesDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Detected anomaly signals",
		}, []string{"type", "severity"}),
		autoSOS: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_auto_sos_total",
			Help:      "SOS events raised automatically from anomalies",
		}),

		safetyScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "safety_score",
			Help:      "Distribution of computed composite safety scores",
			Buckets:   []float64{20, 40, 60, 80, 100},
		}),
		scoreFallback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_component_fallback_total",
			Help:      "Score components that fell back to their default",
		}, []string{"component"}),

		locationPings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_pings_total",
			Help:      "Accepted location pings, by source",
		}, []string{"source"}),
		zoneEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_events_total",
			Help:      "Geofence transitions",
		}, []string{"kind", "transition"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a per-user limit",
		}, []string{"limit"}),

		firsFiled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firs_filed_total",
			Help:      "Electronic FIRs filed",
		}),
		notifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Failed outbound notifications, by channel",
		}, []string{"channel"}),
		liveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_dashboard_connections",
			Help:      "Connected police dashboard websockets",
		}),
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) SOSTriggered(mode string) {
	if m == nil {
		return
	}
	m.sosTriggered.WithLabelValues(mode).Inc()
}

func (m *Metrics) SOSEscalated(target string) {
	if m == nil {
		return
	}
	m.sosEscalations.WithLabelValues(target).Inc()
}

func (m *Metrics) SOSTransition(status string) {
	if m == nil {
		return
	}
	m.sosTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AnomalyDetected(kind, severity string) {
	if m == nil {
		return
	}
	m.anomaliesDetected.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) AutoSOS() {
	if m == nil {
		return
	}
	m.autoSOS.Inc()
}

func (m *Metrics) ObserveScore(composite int) {
	if m == nil {
		return
	}
	m.safetyScore.Observe(float64(composite))
}

func (m *Metrics) ScoreFallback(component string) {
	if m == nil {
		return
	}
	m.scoreFallback.WithLabelValues(component).Inc()
}

func (m *Metrics) LocationPing(source string) {
	if m == nil {
		return
	}
	m.locationPings.WithLabelValues(source).Inc()
}

func (m *Metrics) ZoneEvent(kind, transition string) {
	if m == nil {
		return
	}
	m.zoneEvents.WithLabelValues(kind, transition).Inc()
}

func (m *Metrics) RateLimited(limit string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limit).Inc()
}

func (m *Metrics) FIRFiled() {
	if m == nil {
		return
	}
	m.firsFiled.Inc()
}

func (m *Metrics) NotifyFailed(channel string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) SetLiveConnections(n int) {
	if m == nil {
		return
	}
	m.liveConnections.Set(float64(n))
}
