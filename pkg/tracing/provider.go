package tracing

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

type ProviderConfig struct {
	ServiceName string
	Enabled     bool
	OTLP        exporters.OTLPConfig
}

// Setup installs the global tracer. When export is disabled spans are still created so trace ids
// show up in logs and error responses. The returned func flushes and shuts the provider down.
func Setup(ctx context.Context, cfg ProviderConfig, logger ectologger.Logger) (func(context.Context) error, error) {
	opts := []sdktrace.TracerProviderOption{}
	if cfg.Enabled {
		exporter, err := exporters.NewOTLPExporter(ctx, cfg.OTLP)
		if err != nil {
			logger.WithError(err).Error("failed to create OTLP exporter")
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Infof("Exporting traces to %s over %s", cfg.OTLP.Endpoint, cfg.OTLP.Protocol)
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(cfg.ServiceName))

	return provider.Shutdown, nil
}
