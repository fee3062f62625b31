// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsSubmitted counts submitted jobs.
	// Labels: kind (archive, class)
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jvmindex",
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Total background jobs submitted",
	}, []string{"kind"})

	// jobsFinished counts jobs by terminal status.
	// Labels: kind, status (succeeded, failed, cancelled)
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jvmindex",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total background jobs finished by status",
	}, []string{"kind", "status"})

	// jobsInFlight is the number of jobs submitted and not yet finished.
	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jvmindex",
		Subsystem: "jobs",
		Name:      "in_flight",
		Help:      "Background jobs pending or running",
	})

	// jobDuration measures run time from start to finish.
	// Labels: kind
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jvmindex",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Background job run time in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"kind"})
)
