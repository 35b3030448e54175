package observability

import (
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
	postings        *prometheus.CounterVec
	reversals       *prometheus.CounterVec
	txRetries       prometheus.Counter
	notifyDropped   prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finops_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_postings_total",
		Help: "Jumlah posting dokumen ke ledger berdasarkan jenis dan hasil.",
	}, []string{"kind", "outcome"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_reversals_total",
		Help: "Jumlah reversal dokumen berdasarkan jenis dan hasil.",
	}, []string{"kind", "outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finops_tx_retries_total",
		Help: "Jumlah transaksi database yang diulang karena konflik serialisasi.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finops_notifications_dropped_total",
		Help: "Jumlah notifikasi yang dibuang karena antrean penuh.",
	})
	registry.MustRegister(requests, duration, postings, reversals, retries, dropped)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postings:        postings,
		reversals:       reversals,
		txRetries:       retries,
		notifyDropped:   dropped,
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

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePosting mencatat hasil posting.
func (m *Metrics) ObservePosting(kind string, err error) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(kind, outcome(err)).Inc()
}

// ObserveReversal mencatat hasil reversal.
func (m *Metrics) ObserveReversal(kind string, err error) {
	if m == nil {
		return
	}
	m.reversals.WithLabelValues(kind, outcome(err)).Inc()
}

// TxRetried dipanggil setiap kali transaksi diulang.
func (m *Metrics) TxRetried(int, error) {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// NotificationDropped menghitung notifikasi yang dibuang.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
