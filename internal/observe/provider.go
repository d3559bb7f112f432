package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing the running pipeline.
const (
	AttrMode        = attribute.Key("earshot.mode")
	AttrSource      = attribute.Key("earshot.audio.source")
	AttrStrategy    = attribute.Key("earshot.segmentation.strategy")
	AttrTranscriber = attribute.Key("earshot.transcriber")
)

// ProviderConfig describes the pipeline the telemetry belongs to.
type ProviderConfig struct {
	// Version is reported as service.version.
	Version string

	// Mode is "listen" or "enroll".
	Mode string

	// Source, Strategy and Transcriber name the configured audio source,
	// endpointing strategy and primary transcriber.
	Source      string
	Strategy    string
	Transcriber string

	// Scrape enables the Prometheus exporter. Without it the meter provider
	// has no reader and instruments record into nothing; there is no
	// operator listener to serve them anyway.
	Scrape bool

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry is the installed OpenTelemetry SDK.
type Telemetry struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider

	// registry is private to this Telemetry so that repeated initialisation
	// (tests, restarts) never collides on the global Prometheus registerer.
	registry *prometheus.Registry
}

// InitProvider builds the meter and tracer providers for one pipeline and
// registers them as the global OTel providers. The pipeline mode and source
// are attached to every scraped series as constant labels, so a listen and
// an enroll run scraped by the same Prometheus stay apart.
//
// Call [Telemetry.Shutdown] before exiting to flush the exporters.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	res, err := pipelineResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	t := &Telemetry{}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Scrape {
		t.registry = prometheus.NewRegistry()
		exp, err := promexporter.New(
			promexporter.WithRegisterer(t.registry),
			promexporter.WithoutScopeInfo(),
			promexporter.WithResourceAsConstantLabels(attribute.NewAllowKeysFilter(AttrMode, AttrSource)),
		)
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exp))
	}
	t.MeterProvider = sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(t.MeterProvider)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	t.TracerProvider = sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(t.TracerProvider)

	return t, nil
}

// pipelineResource describes the service. OTEL_RESOURCE_ATTRIBUTES may
// override any of the attributes set here.
func pipelineResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName("earshot"),
		AttrMode.String(cfg.Mode),
	}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	for k, v := range map[attribute.Key]string{
		AttrSource:      cfg.Source,
		AttrStrategy:    cfg.Strategy,
		AttrTranscriber: cfg.Transcriber,
	} {
		if v != "" {
			attrs = append(attrs, k.String(v))
		}
	}
	// Schemaless so it never conflicts with the SDK's semconv schema.
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
	)
}

// MetricsHandler serves the scraped metrics. It answers 404 when scraping
// is disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.MeterProvider.Shutdown(ctx), t.TracerProvider.Shutdown(ctx))
}
