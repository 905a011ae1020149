// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package sandbox

import (
	"time"

	"code.icreplica.io/replica/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a wasm cache lookup.
const (
	lookupEmbedderCacheHitSuccess          = "embedder_cache_hit_success"
	lookupEmbedderCacheHitSandboxEvicted   = "embedder_cache_hit_sandbox_evicted"
	lookupEmbedderCacheHitCompilationError = "embedder_cache_hit_compilation_error"
	lookupCompilationCacheHit              = "compilation_cache_hit"
	lookupCompilationCacheHitError         = "compilation_cache_hit_compilation_error"
	lookupCacheMiss                        = "cache_miss"
)

const (
	errInvalidMemorySize = "sandboxed_execution_invalid_memory_size"
	errCritical          = "sandboxed_execution_critical_error"
)

type controllerMetrics struct {
	cacheLookups        *prometheus.CounterVec
	spawnDuration       prometheus.Histogram
	executeDuration     *prometheus.HistogramVec
	createStateDuration prometheus.Histogram
	activeLastUsed      prometheus.Histogram
	evictedLastUsed     prometheus.Histogram
	processes           *prometheus.GaugeVec
	invalidMemorySize   prometheus.Counter
	instructionsClamped prometheus.Counter
}

func newControllerMetrics(reg *metrics.Registry) (*controllerMetrics, error) {
	var (
		m   controllerMetrics
		err error
	)

	h, err := reg.AddInstrument(metrics.Counter, "sandboxed_execution_replica_cache_lookups",
		metrics.Vectors("lookup_result"),
		metrics.Help("Results of looking up a wasm module in the embedder and compilation caches"))
	if err != nil {
		return nil, err
	}
	if m.cacheLookups, err = h.CounterVec(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Histogram, "sandboxed_execution_spawn_process_duration_seconds",
		metrics.Buckets(metrics.DecimalBuckets(-4, 1)),
		metrics.Help("Time taken to spawn a sandbox process"))
	if err != nil {
		return nil, err
	}
	if m.spawnDuration, err = h.Histogram(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Histogram, "sandboxed_execution_replica_execute_duration_seconds",
		metrics.Vectors("api_type"),
		metrics.Buckets(metrics.DecimalBuckets(-4, 1)),
		metrics.Help("Time taken by an execution as seen by the replica"))
	if err != nil {
		return nil, err
	}
	if m.executeDuration, err = h.HistogramVec(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Histogram, "sandboxed_execution_replica_create_exe_state_duration_seconds",
		metrics.Buckets(metrics.DecimalBuckets(-4, 1)),
		metrics.Help("Time taken to create an execution state"))
	if err != nil {
		return nil, err
	}
	if m.createStateDuration, err = h.Histogram(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Histogram, "sandboxed_execution_subprocess_active_last_used",
		metrics.Buckets(metrics.DecimalBuckets(-1, 4)),
		metrics.Help("Time since the last usage of an active sandbox process in seconds"))
	if err != nil {
		return nil, err
	}
	if m.activeLastUsed, err = h.Histogram(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Histogram, "sandboxed_execution_subprocess_evicted_last_used",
		metrics.Buckets(metrics.DecimalBuckets(-1, 4)),
		metrics.Help("Time since the last usage of an evicted sandbox process in seconds"))
	if err != nil {
		return nil, err
	}
	if m.evictedLastUsed, err = h.Histogram(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Gauge, "sandboxed_execution_subprocesses",
		metrics.Vectors("state"),
		metrics.Help("Number of sandbox processes by slot state"))
	if err != nil {
		return nil, err
	}
	if m.processes, err = h.GaugeVec(); err != nil {
		return nil, err
	}

	if m.invalidMemorySize, err = reg.ErrorCounter(errInvalidMemorySize); err != nil {
		return nil, err
	}
	if m.instructionsClamped, err = reg.ErrorCounter(errCritical); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *controllerMetrics) lookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *controllerMetrics) observeExecute(apiType string, since time.Time) {
	m.executeDuration.WithLabelValues(apiType).Observe(time.Since(since).Seconds())
}
