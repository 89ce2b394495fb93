// ============================================================================
// derp Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collects and exposes Prometheus metrics for job lifecycle
//          events, barrier completions, peer connectivity, and the
//          hello responder's batching behavior.
//
// Grounded on ChuLiYu-raft-recovery/internal/metrics/metrics.go (the
// Collector shape: one struct holding every prometheus.Collector, a
// constructor that registers them all, and Record*/Set* methods), with
// metric names and the set of recorded events renamed from the job
// queue's domain to derp's tree-overlay job execution domain.
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Prometheus metric this rank exposes.
type Collector struct {
	jobsStarted    prometheus.Counter
	jobsFinished   prometheus.Counter
	jobsExcepted   prometheus.Counter
	barrierEntries prometheus.Counter
	barriersDone   prometheus.Counter

	peerConnects    prometheus.Counter
	peerDisconnects prometheus.Counter
	forwardErrors   prometheus.Counter

	helloBatchSize    prometheus.Histogram
	helloBatchLatency prometheus.Histogram

	jobsActive prometheus.Gauge
}

// NewCollector creates and registers a Collector against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_jobs_started_total",
			Help: "Total number of jobs whose local shell reached the running state",
		}),
		jobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_jobs_finished_total",
			Help: "Total number of jobs whose local shell has exited",
		}),
		jobsExcepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_jobs_excepted_total",
			Help: "Total number of exceptions raised against a job",
		}),
		barrierEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_barrier_entries_total",
			Help: "Total number of barrier entry notifications processed",
		}),
		barriersDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_barriers_completed_total",
			Help: "Total number of barrier cycles completed at their LCA",
		}),
		peerConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_peer_connects_total",
			Help: "Total number of direct child connect events",
		}),
		peerDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_peer_disconnects_total",
			Help: "Total number of direct child disconnect events",
		}),
		forwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derp_forward_errors_total",
			Help: "Total number of router forward/notify calls that returned an error",
		}),
		helloBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "derp_hello_batch_size",
			Help:    "Number of job updates coalesced into one hello response batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		helloBatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "derp_hello_batch_latency_seconds",
			Help:    "Time between a hello update being queued and its batch flushing",
			Buckets: prometheus.DefBuckets,
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "derp_jobs_active",
			Help: "Current number of jobs tracked in this rank's job table",
		}),
	}

	prometheus.MustRegister(
		c.jobsStarted,
		c.jobsFinished,
		c.jobsExcepted,
		c.barrierEntries,
		c.barriersDone,
		c.peerConnects,
		c.peerDisconnects,
		c.forwardErrors,
		c.helloBatchSize,
		c.helloBatchLatency,
		c.jobsActive,
	)

	return c
}

// RecordStart records a job's local shell reaching the running state.
func (c *Collector) RecordStart() { c.jobsStarted.Inc() }

// RecordFinish records a job's local shell exiting.
func (c *Collector) RecordFinish() { c.jobsFinished.Inc() }

// RecordException records an exception raised against a job.
func (c *Collector) RecordException() { c.jobsExcepted.Inc() }

// RecordBarrierEntry records one barrier entry notification processed.
func (c *Collector) RecordBarrierEntry() { c.barrierEntries.Inc() }

// RecordBarrierComplete records a barrier cycle completing at its LCA.
func (c *Collector) RecordBarrierComplete() { c.barriersDone.Inc() }

// RecordPeerConnect records a direct child connecting.
func (c *Collector) RecordPeerConnect() { c.peerConnects.Inc() }

// RecordPeerDisconnect records a direct child disconnecting.
func (c *Collector) RecordPeerDisconnect() { c.peerDisconnects.Inc() }

// RecordForwardError records a router forward/notify call returning an
// error.
func (c *Collector) RecordForwardError() { c.forwardErrors.Inc() }

// RecordHelloBatch records one flushed hello responder batch's size and
// the latency between its first queued update and the flush.
func (c *Collector) RecordHelloBatch(size int, latencySeconds float64) {
	c.helloBatchSize.Observe(float64(size))
	c.helloBatchLatency.Observe(latencySeconds)
}

// SetJobsActive sets the current job table size.
func (c *Collector) SetJobsActive(n int) {
	c.jobsActive.Set(float64(n))
}

// StartServer serves the /metrics endpoint on port until it fails.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
