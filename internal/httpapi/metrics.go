package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentworkforce/relaycrm/internal/adsync"
	"github.com/agentworkforce/relaycrm/internal/crm"
)

// metrics is registered on a per-server registry so several servers can
// coexist in one process.
type metrics struct {
	registry          *prometheus.Registry
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	records           *prometheus.CounterVec
	syncJobs          *prometheus.CounterVec
	streamSubscribers prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaycrm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaycrm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaycrm_records_processed_total",
				Help: "CRM records processed by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
		syncJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaycrm_sync_jobs_total",
				Help: "Ad platform sync jobs by platform and status",
			},
			[]string{"platform", "status"},
		),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaycrm_stream_subscribers",
			Help: "Connected live stream clients",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.records,
		m.syncJobs,
		m.streamSubscribers,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) observeRequest(route, method string, status int, seconds float64) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(seconds)
}

func (m *metrics) observeBatch(result crm.BatchResult) {
	entity := string(result.Entity)
	m.records.WithLabelValues(entity, "succeeded").Add(float64(result.Succeeded))
	m.records.WithLabelValues(entity, "failed").Add(float64(result.Failed))
}

func (m *metrics) observeSync(report adsync.Report) {
	for _, result := range report.Results {
		m.syncJobs.WithLabelValues(result.Platform, result.Status).Inc()
	}
}

// statusRecorder captures the response status for metrics. It forwards
// Hijack so websocket upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
