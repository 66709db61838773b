// Package telemetry wires OpenTelemetry tracing and metrics.
//
// Telemetry is off unless CASELINE_OTEL_ENABLED=true.
//
//	CASELINE_OTEL_ENABLED=true         enable telemetry
//	CASELINE_OTEL_STDOUT=true          write spans and metrics to stderr
//	OTEL_EXPORTER_OTLP_ENDPOINT=...    OTLP/HTTP metrics endpoint (host:port)
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var shutdownFns []func(context.Context) error

func Enabled() bool {
	return os.Getenv("CASELINE_OTEL_ENABLED") == "true"
}

// Init installs global providers. It is a no-op when telemetry is disabled,
// leaving the default no-op providers in place.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		return nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	stdout := os.Getenv("CASELINE_OTEL_STDOUT") == "true"
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	topts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if stdout || endpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		topts = append(topts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(topts...)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(os.Stderr)))
		if err != nil {
			return fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		mopts = append(mopts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))))
	}
	if endpoint != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		mopts = append(mopts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Shutdown flushes and stops the providers installed by Init.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range shutdownFns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	shutdownFns = nil
	return errors.Join(errs...)
}
