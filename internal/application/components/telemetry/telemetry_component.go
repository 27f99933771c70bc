package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cabinet-fe/MiniDevOps/internal/application/components/logging"
	"github.com/cabinet-fe/MiniDevOps/internal/application/consts"
	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

const (
	metricInterval          = 15 * time.Second
	providerShutdownTimeout = 5 * time.Second
)

type TelemetryComponent struct {
	*core.BaseComponent
	cfg           *Config
	tp            *sdktrace.TracerProvider
	mp            *sdkmetric.MeterProvider
	shutdownFuncs []func(context.Context) error
	started       bool
}

func NewTelemetryComponent(cfg *Config) *TelemetryComponent {
	return &TelemetryComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_TELEMETRY, consts.COMPONENT_LOGGING),
		cfg:           cfg,
	}
}

func (tc *TelemetryComponent) Start(ctx context.Context) error {
	if err := tc.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if tc.cfg == nil || !tc.cfg.Enabled {
		return errors.New("telemetry disabled or missing config")
	}
	if err := tc.cfg.normalize(); err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(tc.cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("resource init: %w", err)
	}
	spanExp, metricExp, err := tc.exporters(ctx)
	if err != nil {
		tc.shutdown(ctx)
		return err
	}

	tc.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	tc.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(metricInterval))),
	)
	// 先注册的后关闭: provider 要在输出文件之前 flush
	tc.onShutdown(withTimeout(tc.tp.Shutdown), withTimeout(tc.mp.Shutdown))

	otel.SetTracerProvider(tc.tp)
	otel.SetMeterProvider(tc.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tc.started = true
	logging.Info(ctx, "telemetry component started",
		zap.String("exporter", tc.cfg.Exporter),
		zap.Float64("sample_ratio", tc.cfg.SampleRatio),
		zap.String("service_name", tc.cfg.ServiceName),
	)
	return nil
}

// exporters builds the span and metric exporters for the configured backend.
func (tc *TelemetryComponent) exporters(ctx context.Context) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	if tc.cfg.Exporter == ExporterOTLP {
		o := tc.cfg.OTLP
		ua := grpc.WithUserAgent(tc.cfg.ServiceName)
		traceOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(o.Endpoint),
			otlptracegrpc.WithTimeout(o.Timeout),
			otlptracegrpc.WithDialOption(ua),
		}
		metricOpts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(o.Endpoint),
			otlpmetricgrpc.WithTimeout(o.Timeout),
			otlpmetricgrpc.WithDialOption(ua),
		}
		if o.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spanExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("trace exporter init: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spanExp.Shutdown(ctx)
			return nil, nil, fmt.Errorf("metric exporter init: %w", err)
		}
		return spanExp, metricExp, nil
	}

	w, err := tc.stdoutSink()
	if err != nil {
		return nil, nil, err
	}
	traceOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if tc.cfg.StdoutPretty {
		traceOpts = append(traceOpts, stdouttrace.WithPrettyPrint())
	}
	spanExp, err := stdouttrace.New(traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("trace exporter init: %w", err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("metric exporter init: %w", err)
	}
	return spanExp, metricExp, nil
}

// stdoutSink 两个导出器共用一个输出; StdoutFile 以追加方式打开。
func (tc *TelemetryComponent) stdoutSink() (io.Writer, error) {
	if tc.cfg.StdoutFile == "" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(tc.cfg.StdoutFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry stdout file: %w", err)
	}
	tc.onShutdown(func(context.Context) error { return f.Close() })
	return f, nil
}

func (tc *TelemetryComponent) onShutdown(fns ...func(context.Context) error) {
	tc.shutdownFuncs = append(tc.shutdownFuncs, fns...)
}

func withTimeout(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, providerShutdownTimeout)
		defer cancel()
		return fn(ctx)
	}
}

func (tc *TelemetryComponent) shutdown(ctx context.Context) []error {
	var errs []error
	for i := len(tc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := tc.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
			logging.Warn(ctx, "telemetry shutdown func error", zap.Error(err))
		}
	}
	tc.shutdownFuncs = nil
	return errs
}

func (tc *TelemetryComponent) Stop(ctx context.Context) error {
	if !tc.started {
		return tc.BaseComponent.Stop(ctx)
	}
	errs := tc.shutdown(ctx)
	if err := tc.BaseComponent.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	tc.started = false
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logging.Info(ctx, "telemetry stopped gracefully")
	return nil
}

func (tc *TelemetryComponent) HealthCheck() error {
	if err := tc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if tc.tp == nil || tc.mp == nil {
		return errors.New("telemetry providers not initialized")
	}
	return nil
}

func (tc *TelemetryComponent) Tracer(name string) trace.Tracer {
	if tc.tp == nil {
		return otel.Tracer(name)
	}
	return tc.tp.Tracer(name)
}
