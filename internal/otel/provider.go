// Package otel sets up the OpenTelemetry log pipeline and hands out meters
// for the copterviz components.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ScopePrefix is prepended to component names to form instrumentation scopes.
const ScopePrefix = "github.com/OCAP2/copterviz/internal/"

// ErrNoExporter is returned when OTel is enabled with neither a log writer
// nor an OTLP endpoint.
var ErrNoExporter = errors.New("OTel enabled but no log writer or endpoint configured")

// Config holds OTel configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	BatchTimeout   time.Duration
	LogWriter      io.Writer // receives OTel records as JSON, normally the log file
	Endpoint       string    // OTLP/HTTP endpoint, optional
	Insecure       bool

	// Vehicle describes the visualized vehicle and frames; each entry becomes
	// a "copterviz."-prefixed resource attribute.
	Vehicle map[string]string
}

// Provider owns the log provider for the process.
type Provider struct {
	logProvider *sdklog.LoggerProvider
	config      Config
}

// New builds the provider. A disabled config yields a no-op provider.
func New(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	processors, err := logProcessors(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, proc := range processors {
		opts = append(opts, sdklog.WithProcessor(proc))
	}
	p.logProvider = sdklog.NewLoggerProvider(opts...)

	return p, nil
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	keys := make([]string, 0, len(cfg.Vehicle))
	for k := range cfg.Vehicle {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String("copterviz."+k, cfg.Vehicle[k]))
	}
	return attrs
}

// logProcessors returns one batch processor per configured exporter: the log
// file first, then OTLP.
func logProcessors(ctx context.Context, cfg Config) ([]sdklog.Processor, error) {
	batch := func(exp sdklog.Exporter) sdklog.Processor {
		return sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}

	var processors []sdklog.Processor
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter))
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		processors = append(processors, batch(exp))
	}

	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		processors = append(processors, batch(exp))
	}

	if len(processors) == 0 {
		return nil, ErrNoExporter
	}
	return processors, nil
}

// LoggerProvider returns the log provider for the otelslog bridge, nil when
// disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns the meter for a copterviz component such as "worker". When
// enabled it comes from the global meter provider so an embedding process can
// install its own SDK.
func (p *Provider) Meter(component string) metric.Meter {
	if !p.config.Enabled {
		return noop.Meter{}
	}
	return otel.GetMeterProvider().Meter(ScopePrefix + component)
}

// Flush exports pending records. Called when a session ends so its records
// are complete.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}

// Enabled returns whether OTel is enabled.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}
