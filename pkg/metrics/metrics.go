// Copyright 2025 The Studio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the pipeline's Prometheus counters and
// histograms: cache hit ratio, model-cascade depth, alignment rebuild
// count, and chunk-overflow drops, grounded on the teacher's
// pkg/observability metrics registry (kadirpekel-hector).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus collector set. A nil *Metrics is
// valid and every Record/Observe method on it is a no-op, so callers never
// need a feature flag to skip instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	explanationCacheLookups *prometheus.CounterVec
	cascadeDepth            *prometheus.HistogramVec
	cascadeAttempts         *prometheus.CounterVec
	alignmentBuilds         *prometheus.CounterVec
	chunkOverflowDrops      *prometheus.CounterVec
	validationRepairs       *prometheus.CounterVec
	orchestratorDuration    *prometheus.HistogramVec
	canonicalOutcomes       *prometheus.CounterVec
}

// New constructs a Metrics collector registered under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.explanationCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "explanation",
		Name:      "cache_lookups_total",
		Help:      "Total explanation cache lookups by outcome (structured_hit, legacy_hit, miss)",
	}, []string{"outcome"})

	m.cascadeDepth = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "cascade_depth",
		Help:      "Number of model candidates tried before the cascade succeeded or exhausted",
		Buckets:   []float64{1, 2, 3},
	}, []string{"component"})

	m.cascadeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "cascade_attempts_total",
		Help:      "Total model cascade attempts by model and outcome",
	}, []string{"model", "outcome"})

	m.alignmentBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alignment",
		Name:      "builds_total",
		Help:      "Total alignment builds by outcome (ready, failed, revalidated, drift_rebuild)",
	}, []string{"outcome"})

	m.chunkOverflowDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chunker",
		Name:      "overflow_drops_total",
		Help:      "Total chunks dropped from the tail due to the per-source or per-chapter cap",
	}, []string{"corpus", "reason"})

	m.validationRepairs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "repairs_total",
		Help:      "Total validation repair rounds by component and outcome",
	}, []string{"component", "outcome"})

	m.orchestratorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "request_duration_seconds",
		Help:      "Guide orchestration duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"outcome"})

	m.canonicalOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "canonical_outcomes_total",
		Help:      "Total canonical guide requests by outcome (ready_cache_hit, built, cancelled, failed)",
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.explanationCacheLookups, m.cascadeDepth, m.cascadeAttempts,
		m.alignmentBuilds, m.chunkOverflowDrops, m.validationRepairs,
		m.orchestratorDuration, m.canonicalOutcomes,
	)
	return m
}

// RecordExplanationCacheLookup records a structured_hit / legacy_hit / miss
// outcome.
func (m *Metrics) RecordExplanationCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.explanationCacheLookups.WithLabelValues(outcome).Inc()
}

// RecordCascade records how deep a model cascade ran and each attempt's
// outcome.
func (m *Metrics) RecordCascade(component string, depth int, model, outcome string) {
	if m == nil {
		return
	}
	m.cascadeDepth.WithLabelValues(component).Observe(float64(depth))
	m.cascadeAttempts.WithLabelValues(model, outcome).Inc()
}

// RecordAlignmentBuild records one alignment build outcome.
func (m *Metrics) RecordAlignmentBuild(outcome string) {
	if m == nil {
		return
	}
	m.alignmentBuilds.WithLabelValues(outcome).Inc()
}

// RecordChunkOverflowDrop records count chunks dropped for corpus for
// reason (e.g. "max_chunks_per_source", "alignment_profile_cap").
func (m *Metrics) RecordChunkOverflowDrop(corpusID, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.chunkOverflowDrops.WithLabelValues(corpusID, reason).Add(float64(count))
}

// RecordValidationRepair records one repair round's outcome (repaired,
// still_invalid) for component (explanation, summary).
func (m *Metrics) RecordValidationRepair(component, outcome string) {
	if m == nil {
		return
	}
	m.validationRepairs.WithLabelValues(component, outcome).Inc()
}

// ObserveOrchestratorRequest records one Guide Orchestrator request's total
// duration and outcome.
func (m *Metrics) ObserveOrchestratorRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.orchestratorDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.canonicalOutcomes.WithLabelValues(outcome).Inc()
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
