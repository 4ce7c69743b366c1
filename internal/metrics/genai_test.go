// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/isboyjc/amux/internal/ir"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestGenAI_records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	g := NewGenAI(meter)

	call := Call{Provider: "openai", RequestModel: "gpt-4o", OriginalModel: "claude-sonnet-4"}
	g.RecordTokens(t.Context(), call, ir.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	g.RecordRequest(t.Context(), call, 120*time.Millisecond, "")
	g.RecordFirstToken(t.Context(), call, 30*time.Millisecond)

	metrics := collect(t, reader)

	usage, ok := metrics[genaiMetricClientTokenUsage].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	// One datapoint per token type.
	require.Len(t, usage.DataPoints, 3)
	var total float64
	for _, dp := range usage.DataPoints {
		require.Equal(t, uint64(1), dp.Count)
		total += dp.Sum
	}
	require.Equal(t, float64(10+5+15), total)

	latency, ok := metrics[genaiMetricServerRequestDuration].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, latency.DataPoints, 1)
	require.InDelta(t, 0.12, latency.DataPoints[0].Sum, 0.001)

	first, ok := metrics[genaiMetricServerTimeToFirstToken].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, first.DataPoints, 1)
}

func TestErrorType(t *testing.T) {
	require.Empty(t, ErrorType(nil))
	require.Equal(t, "CONNECTION_TIMEOUT", ErrorType(ir.NewGatewayError(ir.CodeConnectionTimeout, "x")))
	require.Equal(t, "rate_limit", ErrorType(&ir.Error{Kind: ir.ErrorKindRateLimit, Message: "x"}))
	require.Equal(t, genaiErrorTypeFallback, ErrorType(errors.New("boom")))
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Setenv("OTEL_METRICS_EXPORTER", "prometheus")
	p, err := NewProviderFromEnv()
	require.NoError(t, err)
	require.NotNil(t, p.Handler())
	require.NoError(t, p.Shutdown(t.Context()))

	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	p, err = NewProviderFromEnv()
	require.NoError(t, err)
	require.Nil(t, p.Handler())
	// The no-op meter still accepts instruments.
	NewGenAI(p.Meter()).RecordRequest(t.Context(), Call{Provider: "openai"}, time.Second, "")
	require.NoError(t, p.Shutdown(t.Context()))
}
