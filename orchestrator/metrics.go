// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyflow_requests_total",
		Help: "Candidate resolutions by terminal outcome.",
	}, []string{"outcome"})

	dropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyflow_drops_total",
		Help: "Results discarded without publishing, by reason.",
	}, []string{"reason"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyflow_retries_total",
		Help: "Backend attempt retries by failure kind.",
	}, []string{"kind"})

	sharedFlightsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyflow_shared_flights_total",
		Help: "Backend calls answered by a coalesced in-flight request.",
	})

	resolveSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keyflow_resolve_duration_seconds",
		Help:    "Fire-to-publish latency for published candidates.",
		Buckets: prometheus.DefBuckets,
	})
)
