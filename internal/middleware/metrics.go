package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides methods to record metrics. A nil *Metrics records
// nothing, so components can run without monitoring.
type Metrics struct {
	registry *prometheus.Registry

	webhookAttempts  *prometheus.CounterVec
	webhookResults   *prometheus.CounterVec
	webhookDuration  *prometheus.HistogramVec
	pendingRequests  prometheus.Gauge
	storageOps       *prometheus.CounterVec
	storageDuration  *prometheus.HistogramVec
	conversationSave *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	apiRequests      *prometheus.CounterVec
}

// NewMetrics creates the collectors on a registry of their own
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		webhookAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_webhook_attempts_total",
			Help: "Total number of HTTP attempts sent to the webhook",
		}, []string{"outcome"}),

		webhookResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_webhook_results_total",
			Help: "Total number of ask calls by classified result",
		}, []string{"result"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_webhook_request_duration_seconds",
			Help:    "Duration of ask calls including retries",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"result"}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assistant_pending_requests",
			Help: "Number of in-flight ask calls",
		}),

		storageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_storage_operations_total",
			Help: "Total number of key-value storage operations",
		}, []string{"operation", "status"}),

		storageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_storage_operation_duration_seconds",
			Help:    "Duration of key-value storage operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		conversationSave: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_conversation_saves_total",
			Help: "Total number of conversation writes",
		}, []string{"status"}),

		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_rate_limit_exceeded_total",
			Help: "Total number of rejected ask calls",
		}, []string{"route"}),

		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_api_requests_total",
			Help: "Total number of loopback API requests",
		}, []string{"route", "code"}),
	}
}

// RecordWebhookAttempt records one HTTP attempt
func (m *Metrics) RecordWebhookAttempt(outcome string) {
	if m == nil {
		return
	}
	m.webhookAttempts.WithLabelValues(outcome).Inc()
}

// RecordWebhookResult records the classified result of an ask call
func (m *Metrics) RecordWebhookResult(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookResults.WithLabelValues(result).Inc()
	m.webhookDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// SetPendingRequests sets the in-flight gauge
func (m *Metrics) SetPendingRequests(count int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(count))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.storageOps.WithLabelValues(operation, status).Inc()
	m.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConversationSave records a conversation write
func (m *Metrics) RecordConversationSave(status string) {
	if m == nil {
		return
	}
	m.conversationSave.WithLabelValues(status).Inc()
}

// RecordRateLimitExceeded records a rejected call
func (m *Metrics) RecordRateLimitExceeded(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

// RecordAPIRequest records a served API request
func (m *Metrics) RecordAPIRequest(route string, code int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(route, fmt.Sprint(code)).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string, metrics *Metrics) error {
	router := mux.NewRouter()
	router.Handle(path, metrics.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
