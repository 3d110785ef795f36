// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for response cache activity.
var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyflow_cache_hits_total",
		Help: "Response cache hits",
	})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyflow_cache_misses_total",
		Help: "Response cache misses",
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyflow_cache_evictions_total",
		Help: "Entries evicted on capacity pressure",
	})
)
