// Package observability wires OpenTelemetry tracing and Prometheus-backed
// metrics for the controller.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs a global meter provider backed by a Prometheus
// exporter and returns the /metrics handler and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// GaugeFunc reports the current value of a gauge when metrics are scraped.
type GaugeFunc func(ctx context.Context) (int64, error)

// RegisterGauge registers an observable gauge on the global meter. Errors
// from fn are logged and the observation skipped, so a failing source never
// breaks a scrape.
func RegisterGauge(name, description string, fn GaugeFunc, log *slog.Logger) error {
	meter := otel.Meter("jobrunner/controller")
	_, err := meter.Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			v, err := fn(ctx)
			if err != nil {
				log.Warn("failed to observe gauge", slog.String("metric", name), slog.Any("error", err))
				return nil
			}
			obs.Observe(v)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register gauge %s: %w", name, err)
	}
	return nil
}
