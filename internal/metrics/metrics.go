// Package metrics exposes Prometheus instrumentation for the host bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts session starts, labeled by how the host
	// instance was obtained ("attached" or "created").
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xlhost_sessions_started_total",
		Help: "Number of host sessions started, by acquisition mode",
	}, []string{"mode"})

	// DocumentsOpened counts documents opened through the session, labeled
	// by ownership ("owned" for fresh opens, "unowned" for adopted ones).
	DocumentsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xlhost_documents_opened_total",
		Help: "Number of documents leased, by ownership",
	}, []string{"ownership"})

	// DocumentsClosed counts documents closed by the session.
	DocumentsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xlhost_documents_closed_total",
		Help: "Number of documents closed by the session",
	})

	// StaleRecoveries counts transparent restarts after a dead handle.
	StaleRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xlhost_stale_handle_recoveries_total",
		Help: "Number of transparent session restarts after a stale handle",
	})

	// ProcessesTerminated counts host processes terminated during cleanup,
	// labeled by the strategy that got them ("tracked" or "sweep").
	ProcessesTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xlhost_processes_terminated_total",
		Help: "Number of host processes force-terminated, by strategy",
	}, []string{"strategy"})

	// SoftFailures counts swallowed cleanup sub-step failures, labeled by
	// the operation that degraded.
	SoftFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xlhost_cleanup_soft_failures_total",
		Help: "Number of best-effort cleanup sub-steps that failed",
	}, []string{"op"})

	// OpenDocuments tracks the current size of the document registry.
	OpenDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xlhost_open_documents",
		Help: "Documents currently tracked by the session registry",
	})
)
