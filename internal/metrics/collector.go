// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the memory-store metrics.
type Collector struct {
	memoriesStored *prometheus.CounterVec
	recallsTotal   *prometheus.CounterVec
	recallDuration *prometheus.HistogramVec
	accessLogged   *prometheus.CounterVec

	decayRuns       prometheus.Counter
	decayedMemories prometheus.Counter
	expiredSwept    prometheus.Counter

	embeddingCacheHits   prometheus.Counter
	embeddingCacheMisses prometheus.Counter

	degradedMode prometheus.Gauge
	poolInUse    prometheus.Gauge
	poolWaits    prometheus.Counter
}

// NewCollector registers the memory-store metrics with reg. A nil reg
// falls back to the default registerer; tests pass their own registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.memoriesStored = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Total number of memories stored",
		},
		[]string{"memory_type"},
	)

	c.recallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalls_total",
			Help:      "Total number of recall operations",
		},
		[]string{"mode"},
	)

	c.recallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_duration_seconds",
			Help:      "Recall operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	c.accessLogged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_log_entries_total",
			Help:      "Total number of access log entries written",
		},
		[]string{"access_type"},
	)

	c.decayRuns = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_runs_total",
			Help:      "Total number of forgetting-curve passes",
		},
	)

	c.decayedMemories = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decayed_memories_total",
			Help:      "Total number of memories whose importance was decayed",
		},
	)

	c.expiredSwept = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_memories_swept_total",
			Help:      "Total number of expired memories removed by cleanup",
		},
	)

	c.embeddingCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total number of embedding cache hits",
		},
	)

	c.embeddingCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		},
	)

	c.degradedMode = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_mode",
			Help:      "1 when the in-process fallback store is active",
		},
	)

	c.poolInUse = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Database connections currently in use",
		},
	)

	c.poolWaits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_pool_waits_total",
			Help:      "Total number of waits for a pool connection",
		},
	)

	return c
}

// RecordStore counts one stored memory.
func (c *Collector) RecordStore(memoryType string) {
	c.memoriesStored.WithLabelValues(memoryType).Inc()
}

// RecordRecall counts one recall and its duration. Mode is "semantic",
// "text" or "weighted".
func (c *Collector) RecordRecall(mode string, duration time.Duration) {
	c.recallsTotal.WithLabelValues(mode).Inc()
	c.recallDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordAccess counts one access-log write.
func (c *Collector) RecordAccess(accessType string) {
	c.accessLogged.WithLabelValues(accessType).Inc()
}

// RecordDecayRun counts one forgetting-curve pass and the rows it updated.
func (c *Collector) RecordDecayRun(updated int) {
	c.decayRuns.Inc()
	c.decayedMemories.Add(float64(updated))
}

// RecordExpiredSweep counts rows removed by an expiry sweep.
func (c *Collector) RecordExpiredSweep(removed int) {
	c.expiredSwept.Add(float64(removed))
}

// RecordCacheHit counts one embedding cache hit.
func (c *Collector) RecordCacheHit() { c.embeddingCacheHits.Inc() }

// RecordCacheMiss counts one embedding cache miss.
func (c *Collector) RecordCacheMiss() { c.embeddingCacheMisses.Inc() }

// SetDegraded flips the degraded-mode gauge.
func (c *Collector) SetDegraded(degraded bool) {
	if degraded {
		c.degradedMode.Set(1)
		return
	}
	c.degradedMode.Set(0)
}

// SetPoolInUse records the number of connections currently held.
func (c *Collector) SetPoolInUse(n int) {
	c.poolInUse.Set(float64(n))
}

// RecordPoolWait counts one wait for a pool connection.
func (c *Collector) RecordPoolWait() { c.poolWaits.Inc() }
