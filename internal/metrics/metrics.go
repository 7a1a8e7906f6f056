// Package metrics provides Prometheus metrics for the journal reader and
// its CDC pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all journal reader metrics.
	Namespace = "philotes_ibmi"

	// Subsystem constants for metric organization.
	SubsystemCDC     = "cdc"
	SubsystemJournal = "journal"
	SubsystemHost    = "host"
	SubsystemBuffer  = "buffer"
)

// Label constants for consistent labeling across metrics.
const (
	LabelSource    = "source"
	LabelTable     = "table"
	LabelOperation = "operation"
	LabelJournal   = "journal"
	LabelEntryType = "entry_type"
	LabelProgram   = "program"
	LabelReason    = "reason"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
)

var (
	// CDC Metrics

	// CDCEventsTotal counts the total number of CDC events processed.
	CDCEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCDC,
			Name:      "events_total",
			Help:      "Total number of CDC events processed",
		},
		[]string{LabelSource, LabelTable, LabelOperation},
	)

	// CDCLagSeconds tracks the replication lag in seconds.
	CDCLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCDC,
			Name:      "lag_seconds",
			Help:      "Current replication lag in seconds",
		},
		[]string{LabelSource, LabelTable},
	)

	// CDCErrorsTotal counts the total number of CDC errors.
	CDCErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCDC,
			Name:      "errors_total",
			Help:      "Total number of CDC errors",
		},
		[]string{LabelSource, LabelErrorType},
	)

	// CDCRetriesTotal counts the total number of retry attempts.
	CDCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCDC,
			Name:      "retries_total",
			Help:      "Total number of retry attempts",
		},
		[]string{LabelSource},
	)

	// CDCPipelineState represents the current state of the pipeline.
	// Values: 0=stopped, 1=starting, 2=running, 3=paused, 4=failed
	CDCPipelineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCDC,
			Name:      "pipeline_state",
			Help:      "Current pipeline state (0=stopped, 1=starting, 2=running, 3=paused, 4=failed)",
		},
		[]string{LabelSource},
	)

	// Journal Metrics

	// JournalRetrievalsTotal counts journal retrieval calls by outcome.
	JournalRetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "retrievals_total",
			Help:      "Total number of journal retrieval calls",
		},
		[]string{LabelJournal, LabelStatus},
	)

	// JournalRetrievalDuration tracks the duration of journal retrieval calls.
	JournalRetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of journal retrieval calls in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelJournal},
	)

	// JournalEntriesTotal counts journal entries handed to consumers.
	JournalEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "entries_total",
			Help:      "Total number of journal entries read",
		},
		[]string{LabelJournal, LabelEntryType},
	)

	// JournalDuplicatesSkippedTotal counts already processed entries skipped
	// at the start of a retrieval.
	JournalDuplicatesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "duplicates_skipped_total",
			Help:      "Total number of already processed entries skipped",
		},
		[]string{LabelJournal},
	)

	// JournalBufferTooSmallTotal counts retrievals whose buffer could not
	// hold a single entry.
	JournalBufferTooSmallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "buffer_too_small_total",
			Help:      "Total number of retrievals with a buffer too small for one entry",
		},
		[]string{LabelJournal},
	)

	// JournalChainRefreshesTotal counts receiver chain refreshes.
	JournalChainRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "chain_refreshes_total",
			Help:      "Total number of receiver chain refreshes",
		},
		[]string{LabelJournal, LabelReason},
	)

	// JournalCachedReceivers tracks the number of cached detached receivers.
	JournalCachedReceivers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "cached_receivers",
			Help:      "Number of detached receivers held in the chain cache",
		},
		[]string{LabelJournal},
	)

	// JournalSequence tracks the last processed sequence number.
	JournalSequence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "sequence",
			Help:      "Last processed journal sequence number",
		},
		[]string{LabelJournal},
	)

	// Host Metrics

	// HostCallsTotal counts program calls made to the host.
	HostCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemHost,
			Name:      "calls_total",
			Help:      "Total number of host program calls",
		},
		[]string{LabelProgram, LabelStatus},
	)

	// HostCallDuration tracks the duration of host program calls.
	HostCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemHost,
			Name:      "call_duration_seconds",
			Help:      "Duration of host program calls in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelProgram},
	)

	// RowDecodeErrorsTotal counts rows that could not be decoded.
	RowDecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemJournal,
			Name:      "row_decode_errors_total",
			Help:      "Total number of journal rows that could not be decoded",
		},
		[]string{LabelJournal, LabelTable},
	)

	// Buffer Metrics

	// BufferDepth tracks the number of unprocessed events in the buffer.
	BufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBuffer,
			Name:      "depth",
			Help:      "Number of unprocessed events in the buffer",
		},
		[]string{LabelSource},
	)

	// BufferWritesTotal counts buffer writes by outcome.
	BufferWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBuffer,
			Name:      "writes_total",
			Help:      "Total number of buffer writes",
		},
		[]string{LabelSource, LabelStatus},
	)

	// BufferDLQTotal counts events sent to dead letter queue.
	BufferDLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBuffer,
			Name:      "dlq_total",
			Help:      "Total number of events sent to dead letter queue",
		},
		[]string{LabelSource},
	)

	// allMetrics contains all metrics for registration.
	allMetrics = []prometheus.Collector{
		// CDC
		CDCEventsTotal,
		CDCLagSeconds,
		CDCErrorsTotal,
		CDCRetriesTotal,
		CDCPipelineState,
		// Journal
		JournalRetrievalsTotal,
		JournalRetrievalDuration,
		JournalEntriesTotal,
		JournalDuplicatesSkippedTotal,
		JournalBufferTooSmallTotal,
		JournalChainRefreshesTotal,
		JournalCachedReceivers,
		JournalSequence,
		RowDecodeErrorsTotal,
		// Host
		HostCallsTotal,
		HostCallDuration,
		// Buffer
		BufferDepth,
		BufferWritesTotal,
		BufferDLQTotal,
	}
)

// Register registers all journal reader metrics with the default Prometheus registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all journal reader metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all journal reader metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	// Register standard collectors
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register journal reader metrics
	RegisterWith(reg)

	return reg
}
