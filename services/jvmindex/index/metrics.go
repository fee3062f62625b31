// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for index operations.
var (
	tracer = otel.Tracer("aleutian.jvmindex.index")
	meter  = otel.Meter("aleutian.jvmindex.index")
)

var (
	operationLatency metric.Float64Histogram
	lookupTotal      metric.Int64Counter
	writeTotal       metric.Int64Counter
	invalidatedTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"jvmindex_index_operation_duration_seconds",
			metric.WithDescription("Duration of index operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lookupTotal, err = meter.Int64Counter(
			"jvmindex_index_lookups_total",
			metric.WithDescription("Index lookups by result: hit, miss or corrupt"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		writeTotal, err = meter.Int64Counter(
			"jvmindex_index_writes_total",
			metric.WithDescription("Class entries written to the index"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		invalidatedTotal, err = meter.Int64Counter(
			"jvmindex_index_invalidated_total",
			metric.WithDescription("Class entries removed by invalidation or pruning"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Index."+operation, trace.WithAttributes(
		append(attrs, attribute.String("index.operation", operation))...,
	))
}

func recordOperation(ctx context.Context, operation string, d time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	operationLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}

func recordLookup(ctx context.Context, result string) {
	if err := initMetrics(); err != nil {
		return
	}
	lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordWrite(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	writeTotal.Add(ctx, 1)
}

func recordInvalidated(ctx context.Context, n int) {
	if err := initMetrics(); err != nil || n == 0 {
		return
	}
	invalidatedTotal.Add(ctx, int64(n))
}
