// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const defaultExportInterval = 30 * time.Second

// Config selects where instruments record to.
type Config struct {
	Enabled bool
	// ExportInterval is how often the OTLP reader pushes. Defaults to 30s.
	ExportInterval time.Duration
	// Reader replaces the periodic OTLP HTTP reader when set.
	Reader sdkmetric.Reader
	// Provider is used as-is when set; no SDK provider is installed.
	Provider metric.MeterProvider
}

// Meter creates the instruments the service records request scope activity on.
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New returns a Meter scoped to serviceName. An enabled Meter without a
// Provider installs an SDK meter provider as the global one, exporting over
// OTLP HTTP (endpoint from the OTEL_EXPORTER_OTLP_* variables). A disabled
// Meter hands out no-op instruments.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	switch {
	case !cfg.Enabled:
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}, nil
	case cfg.Provider != nil:
		return &Meter{meter: cfg.Provider.Meter(serviceName)}, nil
	}

	reader := cfg.Reader
	if reader == nil {
		exporter, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Meter{
		meter:    provider.Meter(serviceName),
		provider: provider,
	}, nil
}

// Shutdown flushes pending measurements and stops the exporter.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

func (m *Meter) CreateUpDownCounter(name, description string) (metric.Int64UpDownCounter, error) {
	counter, err := m.meter.Int64UpDownCounter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a float histogram measured in unit.
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}
