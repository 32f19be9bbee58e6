package module

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modular"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTelTracingConfig configures the observability.otel module.
type OTelTracingConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
	// SampleRatio is the fraction of root traces kept; 0 keeps everything.
	SampleRatio float64
}

// OTelTracing exports the spans of pipeline runs, Gusto API calls and
// webhook deliveries over OTLP/HTTP.
type OTelTracing struct {
	name           string
	cfg            OTelTracingConfig
	tracerProvider *sdktrace.TracerProvider
	logger         modular.Logger
}

// NewOTelTracing creates a new OpenTelemetry tracing module.
func NewOTelTracing(name string, cfg OTelTracingConfig) *OTelTracing {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4318"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gustoflow"
	}
	return &OTelTracing{name: name, cfg: cfg, logger: &noopLogger{}}
}

// Name returns the module name.
func (o *OTelTracing) Name() string { return o.name }

// Init initializes the module with the application context.
func (o *OTelTracing) Init(app modular.Application) error {
	o.logger = app.Logger()
	return nil
}

// ProvidesServices returns the services provided by this module.
func (o *OTelTracing) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: o.name, Description: "OpenTelemetry Tracing", Instance: o},
	}
}

// RequiresServices returns the services required by this module.
func (o *OTelTracing) RequiresServices() []modular.ServiceDependency {
	return nil
}

// Start installs the OTLP exporter and the global TracerProvider.
func (o *OTelTracing) Start(ctx context.Context) error {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(o.cfg.Endpoint)}
	if o.cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(o.cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(o.sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	o.tracerProvider = tp

	o.logger.Info("OpenTelemetry tracing started", "endpoint", o.cfg.Endpoint, "service", o.cfg.ServiceName)
	return nil
}

func (o *OTelTracing) sampler() sdktrace.Sampler {
	if o.cfg.SampleRatio <= 0 || o.cfg.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.cfg.SampleRatio))
}

// Stop flushes and shuts down the TracerProvider.
func (o *OTelTracing) Stop(ctx context.Context) error {
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		o.tracerProvider = nil
	}
	o.logger.Info("OpenTelemetry tracing stopped")
	return nil
}
