// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package metrics

import (
	"context"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "isboyjc/amux"

// Provider owns the MeterProvider and the Prometheus registry behind
// GET /metrics.
type Provider struct {
	meter    metric.Meter
	handler  http.Handler
	shutdown func(context.Context) error
}

// NewProviderFromEnv configures the OpenTelemetry pipeline from the
// environment. Environment variables checked:
//   - OTEL_SDK_DISABLED: "true" disables export entirely.
//   - OTEL_METRICS_EXPORTER: "prometheus" (the default) serves a
//     Prometheus registry on GET /metrics; "none" disables export.
//
// A disabled provider still hands out a working no-op meter so
// instrumented code paths need no branches.
func NewProviderFromEnv() (*Provider, error) {
	exporter := os.Getenv("OTEL_METRICS_EXPORTER")
	if os.Getenv("OTEL_SDK_DISABLED") == "true" || exporter == "none" {
		return &Provider{
			meter:    noop.NewMeterProvider().Meter(meterName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	registry := promclient.NewRegistry()
	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &Provider{
		meter:    mp.Meter(meterName),
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		shutdown: mp.Shutdown,
	}, nil
}

// Meter returns the meter for instrument registration.
func (p *Provider) Meter() metric.Meter { return p.meter }

// Handler returns the /metrics handler, nil when export is disabled.
func (p *Provider) Handler() http.Handler { return p.handler }

// Shutdown flushes and stops the pipeline.
func (p *Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }
