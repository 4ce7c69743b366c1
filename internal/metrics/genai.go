// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/isboyjc/amux/internal/ir"
)

const (
	// Metric names, attributes and values according to the Semantic Conventions for Generative AI Metrics.
	// See: https://opentelemetry.io/docs/specs/semconv/gen-ai/gen-ai-metrics/

	genaiMetricClientTokenUsage       = "gen_ai.client.token.usage" // #nosec G101: Potential hardcoded credentials
	genaiMetricServerRequestDuration  = "gen_ai.server.request.duration"
	genaiMetricServerTimeToFirstToken = "gen_ai.server.time_to_first_token" // #nosec G101: Potential hardcoded credentials

	genaiAttributeOperationName = "gen_ai.operation.name"
	genaiAttributeProviderName  = "gen_ai.provider.name"
	genaiAttributeRequestModel  = "gen_ai.request.model"
	genaiAttributeOriginalModel = "gen_ai.original.model"
	genaiAttributeTokenType     = "gen_ai.token.type" // #nosec G101: Potential hardcoded credentials
	genaiAttributeErrorType     = "error.type"

	genaiOperationChat     = "chat"
	genaiTokenTypeInput    = "input"
	genaiTokenTypeOutput   = "output"
	genaiTokenTypeTotal    = "total"
	genaiErrorTypeFallback = "_OTHER"
)

// GenAI holds the OpenTelemetry gen-ai instruments. It parallels the
// in-memory Sink; neither replaces the other.
type GenAI struct {
	tokenUsage        metric.Float64Histogram
	requestLatency    metric.Float64Histogram
	firstTokenLatency metric.Float64Histogram
}

// NewGenAI registers the gen-ai instruments on meter.
func NewGenAI(meter metric.Meter) *GenAI {
	return &GenAI{
		tokenUsage: mustRegisterHistogram(meter,
			genaiMetricClientTokenUsage,
			metric.WithDescription("Number of tokens processed."),
			metric.WithUnit("{token}"),
			metric.WithExplicitBucketBoundaries(1, 4, 16, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304),
		),
		requestLatency: mustRegisterHistogram(meter,
			genaiMetricServerRequestDuration,
			metric.WithDescription("Time spent processing request."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28, 2.56, 5.12, 10.24, 20.48, 40.96, 81.92),
		),
		firstTokenLatency: mustRegisterHistogram(meter,
			genaiMetricServerTimeToFirstToken,
			metric.WithDescription("Time to receive first token in streaming responses."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.02, 0.04, 0.06, 0.08, 0.1, 0.25, 0.5, 0.75, 1.0, 2.5, 5.0, 7.5, 10.0),
		),
	}
}

// mustRegisterHistogram registers a histogram with the meter and panics if it fails.
func mustRegisterHistogram(meter metric.Meter, name string, options ...metric.Float64HistogramOption) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, options...)
	if err != nil {
		panic(err)
	}
	return h
}

// Call carries the identifying attributes of one chat call.
type Call struct {
	// Provider is the outbound dialect name.
	Provider string
	// RequestModel is the model sent upstream, after mapping.
	RequestModel string
	// OriginalModel is the model the client asked for, before mapping.
	OriginalModel string
}

func (c Call) attrs() []attribute.KeyValue {
	out := []attribute.KeyValue{
		attribute.Key(genaiAttributeOperationName).String(genaiOperationChat),
		attribute.Key(genaiAttributeProviderName).String(c.Provider),
		attribute.Key(genaiAttributeRequestModel).String(c.RequestModel),
	}
	if c.OriginalModel != "" && c.OriginalModel != c.RequestModel {
		out = append(out, attribute.Key(genaiAttributeOriginalModel).String(c.OriginalModel))
	}
	return out
}

// RecordTokens records the call's token usage by token type.
func (g *GenAI) RecordTokens(ctx context.Context, call Call, usage ir.Usage) {
	attrs := metric.WithAttributes(call.attrs()...)
	g.tokenUsage.Record(ctx, float64(usage.PromptTokens), attrs,
		metric.WithAttributes(attribute.Key(genaiAttributeTokenType).String(genaiTokenTypeInput)))
	g.tokenUsage.Record(ctx, float64(usage.CompletionTokens), attrs,
		metric.WithAttributes(attribute.Key(genaiAttributeTokenType).String(genaiTokenTypeOutput)))
	g.tokenUsage.Record(ctx, float64(usage.TotalTokens), attrs,
		metric.WithAttributes(attribute.Key(genaiAttributeTokenType).String(genaiTokenTypeTotal)))
}

// RecordRequest records the end-to-end duration. errType is empty on
// success.
func (g *GenAI) RecordRequest(ctx context.Context, call Call, duration time.Duration, errType string) {
	opts := []metric.RecordOption{metric.WithAttributes(call.attrs()...)}
	if errType != "" {
		opts = append(opts, metric.WithAttributes(attribute.Key(genaiAttributeErrorType).String(errType)))
	}
	g.requestLatency.Record(ctx, duration.Seconds(), opts...)
}

// RecordFirstToken records the time to the first streamed token.
func (g *GenAI) RecordFirstToken(ctx context.Context, call Call, duration time.Duration) {
	g.firstTokenLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(call.attrs()...))
}

// ErrorType maps a request failure onto the error.type attribute:
// gateway codes and upstream error kinds keep their names, anything else
// records the semconv fallback value.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if ge, ok := ir.AsGatewayError(err); ok {
		return string(ge.Code)
	}
	var uerr *ir.Error
	if errors.As(err, &uerr) {
		return string(uerr.Kind)
	}
	return genaiErrorTypeFallback
}
