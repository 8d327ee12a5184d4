package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authzDecisions  *prometheus.CounterVec
	busPanics       prometheus.Counter
	invalidations   *prometheus.CounterVec
	liveConnections prometheus.Gauge
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik izin.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propdesk_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propdesk_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propdesk_authz_decisions_total",
		Help: "Keputusan guard izin berdasarkan hasil.",
	}, []string{"result"})
	panics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "propdesk_permission_bus_panics_total",
		Help: "Jumlah callback pelanggan yang panic saat notifikasi perubahan izin.",
	})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "propdesk_permission_invalidations_total",
		Help: "Invalidasi izin yang diterima berdasarkan sumber.",
	}, []string{"source"})
	live := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "propdesk_permission_live_connections",
		Help: "Jumlah koneksi websocket umpan izin yang aktif.",
	})
	registry.MustRegister(requests, duration, decisions, panics, invalidations, live)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		authzDecisions:  decisions,
		busPanics:       panics,
		invalidations:   invalidations,
		liveConnections: live,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// AuthzDecision mencatat hasil guard izin.
func (m *Metrics) AuthzDecision(allowed bool) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.authzDecisions.WithLabelValues(result).Inc()
}

// BusPanic mencatat callback yang panic.
func (m *Metrics) BusPanic() {
	if m == nil {
		return
	}
	m.busPanics.Inc()
}

// Invalidation mencatat invalidasi izin dari source.
func (m *Metrics) Invalidation(source string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(source).Inc()
}

// LiveConnections menyesuaikan gauge koneksi umpan izin.
func (m *Metrics) LiveConnections(delta int) {
	if m == nil {
		return
	}
	m.liveConnections.Add(float64(delta))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap mengekspos writer asli untuk http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack meneruskan hijack ke writer asli agar upgrade websocket tetap jalan.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer does not support hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
