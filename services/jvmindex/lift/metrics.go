// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lift

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
	tracer = otel.Tracer("aleutian.jvmindex.lift")
	meter  = otel.Meter("aleutian.jvmindex.lift")
)

var (
	liftLatency    metric.Float64Histogram
	liftTotal      metric.Int64Counter
	methodFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		liftLatency, err = meter.Float64Histogram(
			"jvmindex_lift_duration_seconds",
			metric.WithDescription("Duration of lifting one class file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		liftTotal, err = meter.Int64Counter(
			"jvmindex_lift_classes_total",
			metric.WithDescription("Total number of class files lifted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		methodFailures, err = meter.Int64Counter(
			"jvmindex_lift_method_failures_total",
			metric.WithDescription("Method bodies that could not be lifted, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startLiftSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lift.Lift",
		trace.WithAttributes(attribute.Int("lift.class_bytes", size)),
	)
}

func recordLift(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	liftLatency.Record(ctx, duration.Seconds(), attrs)
	liftTotal.Add(ctx, 1, attrs)
}

func recordMethodFailure(ctx context.Context, kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	methodFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
