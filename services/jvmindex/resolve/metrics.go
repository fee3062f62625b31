// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.jvmindex.resolve")

var (
	memoTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		memoTotal, metricsErr = meter.Int64Counter(
			"jvmindex_resolve_memo_total",
			metric.WithDescription("Resolver memo lookups by kind and result"),
		)
	})
	return metricsErr
}

func recordMemo(ctx context.Context, kind string, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	memoTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("hit", hit),
	))
}
