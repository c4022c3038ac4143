// Package telemetry bootstraps an OpenTelemetry metrics exporter and
// republishes logstats snapshots through it as observable instruments —
// the module's optional, off-the-hot-path instrumentation layer. Adapted
// dropping the tracing half of a typical OTEL bootstrap entirely:
// this module has no request spans to trace, only counters to publish.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/logasync/eventlog/internal/logstats"
)

// Shutdown releases the meter provider's exporter resources.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry meter provider. If endpoint is
// empty, telemetry is disabled and Meter returns a no-op meter.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// StatsSource is anything that can produce a logstats snapshot on demand —
// satisfied by eventlog.Handler, and independently by the worker, buffer,
// and transport packages for finer-grained registration.
type StatsSource interface {
	GetStats() []logstats.Snapshot
}

// PublishStats registers one observable gauge per stat name currently
// present in source's snapshot, read lazily on every OTEL collection pass —
// the same "observable callback reads an internal counter" pattern as the
// teacher's trace.Buffer.registerMetrics, generalized to an arbitrary,
// dynamically named stats snapshot instead of two fixed gauges.
func PublishStats(scope string, source StatsSource) error {
	meter := Meter(scope)

	seen := make(map[string]bool)
	for _, snap := range source.GetStats() {
		name := snap.Name
		if seen[name] {
			continue
		}
		seen[name] = true

		_, err := meter.Int64ObservableGauge(name,
			metric.WithDescription("eventlog stat: "+name),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				for _, snap := range source.GetStats() {
					if snap.Name == name {
						o.Observe(snap.Value)
						break
					}
				}
				return nil
			}),
		)
		if err != nil {
			return fmt.Errorf("telemetry: register gauge %s: %w", name, err)
		}
	}
	return nil
}
