// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.jvmindex.query")
	meter  = otel.Meter("aleutian.jvmindex.query")
)

var (
	queryLatency metric.Float64Histogram
	fillTotal    metric.Int64Counter
	reindexTotal metric.Int64Counter
	viewsOpen    metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"jvmindex_query_duration_seconds",
			metric.WithDescription("Duration of view queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fillTotal, err = meter.Int64Counter(
			"jvmindex_query_fills_total",
			metric.WithDescription("Classes lifted on demand by a query"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reindexTotal, err = meter.Int64Counter(
			"jvmindex_query_reindex_total",
			metric.WithDescription("Archive re-index jobs scheduled, by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		viewsOpen, err = meter.Int64UpDownCounter(
			"jvmindex_query_views_open",
			metric.WithDescription("Open classpath views"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "View."+operation, trace.WithAttributes(attrs...))
}

func recordQuery(ctx context.Context, operation string, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	queryLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	))
}

func recordFill(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	fillTotal.Add(ctx, 1)
}

func recordReindex(ctx context.Context, reason string) {
	if initMetrics() != nil {
		return
	}
	reindexTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordViews(ctx context.Context, delta int64) {
	if initMetrics() != nil {
		return
	}
	viewsOpen.Add(ctx, delta)
}
