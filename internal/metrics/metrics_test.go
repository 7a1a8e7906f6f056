package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Go runtime collectors always report.
	if len(mfs) == 0 {
		t.Error("expected metrics to be registered, got none")
	}
}

func TestRegisterWith(t *testing.T) {
	reg := prometheus.NewRegistry()

	RegisterWith(reg)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedCount := 19
	if len(allMetrics) != expectedCount {
		t.Errorf("expected %d metrics in allMetrics, got %d", expectedCount, len(allMetrics))
	}
}

func TestMetricLabels(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{
			name: "CDCEventsTotal",
			fn: func() {
				CDCEventsTotal.WithLabelValues("source1", "APPLIB.ORDERS", "INSERT").Inc()
			},
		},
		{
			name: "CDCLagSeconds",
			fn: func() {
				CDCLagSeconds.WithLabelValues("source1", "APPLIB.ORDERS").Set(1.5)
			},
		},
		{
			name: "CDCPipelineState",
			fn: func() {
				CDCPipelineState.WithLabelValues("source1").Set(2)
			},
		},
		{
			name: "JournalRetrievalsTotal",
			fn: func() {
				JournalRetrievalsTotal.WithLabelValues("JRNLIB/QSQJRN", "more_data").Inc()
			},
		},
		{
			name: "JournalRetrievalDuration",
			fn: func() {
				JournalRetrievalDuration.WithLabelValues("JRNLIB/QSQJRN").Observe(0.05)
			},
		},
		{
			name: "JournalEntriesTotal",
			fn: func() {
				JournalEntriesTotal.WithLabelValues("JRNLIB/QSQJRN", "R.PT").Add(10)
			},
		},
		{
			name: "JournalChainRefreshesTotal",
			fn: func() {
				JournalChainRefreshesTotal.WithLabelValues("JRNLIB/QSQJRN", "forced").Inc()
			},
		},
		{
			name: "JournalCachedReceivers",
			fn: func() {
				JournalCachedReceivers.WithLabelValues("JRNLIB/QSQJRN").Set(3)
			},
		},
		{
			name: "HostCallsTotal",
			fn: func() {
				HostCallsTotal.WithLabelValues("QSYS/QJOURNAL", "ok").Inc()
			},
		},
		{
			name: "RowDecodeErrorsTotal",
			fn: func() {
				RowDecodeErrorsTotal.WithLabelValues("JRNLIB/QSQJRN", "APPLIB.ORDERS").Inc()
			},
		},
		{
			name: "BufferWritesTotal",
			fn: func() {
				BufferWritesTotal.WithLabelValues("source1", "success").Inc()
			},
		},
		{
			name: "BufferDLQTotal",
			fn: func() {
				BufferDLQTotal.WithLabelValues("source1").Inc()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn()
		})
	}
}

func TestLabelConstants(t *testing.T) {
	labels := map[string]string{
		"source":     LabelSource,
		"table":      LabelTable,
		"operation":  LabelOperation,
		"journal":    LabelJournal,
		"entry_type": LabelEntryType,
		"program":    LabelProgram,
		"reason":     LabelReason,
		"status":     LabelStatus,
		"error_type": LabelErrorType,
	}

	for expected, got := range labels {
		if got != expected {
			t.Errorf("label constant mismatch: expected %q, got %q", expected, got)
		}
	}
}

func TestNamespaceAndSubsystems(t *testing.T) {
	if Namespace != "philotes_ibmi" {
		t.Errorf("expected namespace 'philotes_ibmi', got %q", Namespace)
	}

	subsystems := map[string]string{
		"cdc":     SubsystemCDC,
		"journal": SubsystemJournal,
		"host":    SubsystemHost,
		"buffer":  SubsystemBuffer,
	}

	for expected, got := range subsystems {
		if got != expected {
			t.Errorf("subsystem constant mismatch: expected %q, got %q", expected, got)
		}
	}
}
