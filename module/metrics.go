package module

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServiceName is the service name the collector registers under.
const MetricsServiceName = "metrics.collector"

// MetricsCollectorConfig holds configuration for the MetricsCollector module.
type MetricsCollectorConfig struct {
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Subsystem      string   `yaml:"subsystem" json:"subsystem"`
	MetricsPath    string   `yaml:"metricsPath" json:"metricsPath"`
	EnabledMetrics []string `yaml:"enabledMetrics" json:"enabledMetrics"`
}

// DefaultMetricsCollectorConfig returns the default configuration.
func DefaultMetricsCollectorConfig() MetricsCollectorConfig {
	return MetricsCollectorConfig{
		Namespace:      "gustoflow",
		MetricsPath:    "/metrics",
		EnabledMetrics: []string{"pipeline", "gusto_api", "webhook"},
	}
}

// MetricsCollector wraps Prometheus metrics for pipelines, Gusto API calls
// and webhook deliveries. It registers as service "metrics.collector".
type MetricsCollector struct {
	name     string
	config   MetricsCollectorConfig
	registry *prometheus.Registry

	PipelineExecutions *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	GustoRequests      *prometheus.CounterVec
	GustoDuration      *prometheus.HistogramVec
	WebhookDeliveries  *prometheus.CounterVec
	WebhookLifecycle   *prometheus.CounterVec
}

// NewMetricsCollector creates a new MetricsCollector with its own Prometheus registry.
func NewMetricsCollector(name string) *MetricsCollector {
	return NewMetricsCollectorWithConfig(name, DefaultMetricsCollectorConfig())
}

// NewMetricsCollectorWithConfig creates a new MetricsCollector with the given config.
func NewMetricsCollectorWithConfig(name string, cfg MetricsCollectorConfig) *MetricsCollector {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	mc := &MetricsCollector{name: name, config: cfg, registry: reg}

	if slices.Contains(cfg.EnabledMetrics, "pipeline") {
		mc.PipelineExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pipeline_executions_total",
			Help:      "Total number of pipeline executions",
		}, []string{"pipeline", "status"})

		mc.PipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of pipeline executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"})

		reg.MustRegister(mc.PipelineExecutions, mc.PipelineDuration)
	}

	if slices.Contains(cfg.EnabledMetrics, "gusto_api") {
		mc.GustoRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "gusto_api_requests_total",
			Help:      "Total number of requests sent to the Gusto API",
		}, []string{"method", "status"})

		mc.GustoDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "gusto_api_request_duration_seconds",
			Help:      "Duration of Gusto API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"})

		reg.MustRegister(mc.GustoRequests, mc.GustoDuration)
	}

	if slices.Contains(cfg.EnabledMetrics, "webhook") {
		mc.WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of inbound Gusto webhook deliveries",
		}, []string{"pipeline", "outcome"})

		mc.WebhookLifecycle = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "webhook_lifecycle_total",
			Help:      "Webhook subscription lifecycle calls (checkExists, create, delete)",
		}, []string{"pipeline", "action", "result"})

		reg.MustRegister(mc.WebhookDeliveries, mc.WebhookLifecycle)
	}

	return mc
}

// MetricsPath returns the configured metrics endpoint path.
func (m *MetricsCollector) MetricsPath() string { return m.config.MetricsPath }

// Name returns the module name.
func (m *MetricsCollector) Name() string { return m.name }

// Init is a no-op; the collector is published through ProvidesServices.
func (m *MetricsCollector) Init(modular.Application) error { return nil }

// Registry exposes the collector's private registry, mainly for tests.
func (m *MetricsCollector) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler that serves Prometheus metrics.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPipelineExecution counts and times one pipeline run.
func (m *MetricsCollector) RecordPipelineExecution(pipeline, status string, d time.Duration) {
	if m.PipelineExecutions != nil {
		m.PipelineExecutions.WithLabelValues(pipeline, status).Inc()
	}
	if m.PipelineDuration != nil {
		m.PipelineDuration.WithLabelValues(pipeline).Observe(d.Seconds())
	}
}

// RecordGustoRequest records one Gusto API call. statusCode is 0 when the
// request never got a response.
func (m *MetricsCollector) RecordGustoRequest(method string, statusCode int, d time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	if m.GustoRequests != nil {
		m.GustoRequests.WithLabelValues(method, status).Inc()
	}
	if m.GustoDuration != nil {
		m.GustoDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

// RecordWebhookDelivery counts an inbound webhook by outcome
// (accepted, verification, unauthorized, bad_request).
func (m *MetricsCollector) RecordWebhookDelivery(pipeline, outcome string) {
	if m.WebhookDeliveries != nil {
		m.WebhookDeliveries.WithLabelValues(pipeline, outcome).Inc()
	}
}

// RecordWebhookLifecycle counts a subscription lifecycle call.
func (m *MetricsCollector) RecordWebhookLifecycle(pipeline, action string, ok bool) {
	if m.WebhookLifecycle != nil {
		m.WebhookLifecycle.WithLabelValues(pipeline, action, strconv.FormatBool(ok)).Inc()
	}
}

// ProvidesServices returns the services provided by this module.
func (m *MetricsCollector) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        MetricsServiceName,
			Description: "Prometheus metrics collector for Gusto pipelines",
			Instance:    m,
		},
	}
}

// RequiresServices returns services required by this module.
func (m *MetricsCollector) RequiresServices() []modular.ServiceDependency {
	return nil
}
