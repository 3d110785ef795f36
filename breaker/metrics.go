// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breaker activity.
var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keyflow_breaker_state",
		Help: "Circuit breaker state per endpoint (0=closed, 1=open, 2=half-open)",
	}, []string{"endpoint"})

	tripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyflow_breaker_trips_total",
		Help: "Total circuit breaker trips per endpoint",
	}, []string{"endpoint"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyflow_breaker_rejections_total",
		Help: "Requests rejected without a network attempt, per endpoint",
	}, []string{"endpoint"})
)
