package cdc

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/janovincze/philotes-ibmi/internal/journal"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OperationInsert, "INSERT"},
		{OperationUpdate, "UPDATE"},
		{OperationDelete, "DELETE"},
		{OperationTruncate, "TRUNCATE"},
	}

	for _, tt := range tests {
		if got := string(tt.op); got != tt.want {
			t.Errorf("Operation = %q, want %q", got, tt.want)
		}
	}
}

func TestEvent_FullyQualifiedTable(t *testing.T) {
	e := Event{Schema: "APPLIB", Table: "CUSTOMER_ORDERS"}
	if got := e.FullyQualifiedTable(); got != "APPLIB.CUSTOMER_ORDERS" {
		t.Errorf("FullyQualifiedTable() = %q, want APPLIB.CUSTOMER_ORDERS", got)
	}
}

func TestEvent_Images(t *testing.T) {
	tests := []struct {
		name       string
		before     map[string]any
		after      map[string]any
		wantBefore bool
		wantAfter  bool
	}{
		{"insert", nil, map[string]any{"ID": 1}, false, true},
		{"update", map[string]any{"ID": 1}, map[string]any{"ID": 1}, true, true},
		{"delete", map[string]any{"ID": 1}, nil, true, false},
		{"truncate", map[string]any{}, nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Before: tt.before, After: tt.after}
			if got := e.HasBefore(); got != tt.wantBefore {
				t.Errorf("HasBefore() = %v, want %v", got, tt.wantBefore)
			}
			if got := e.HasAfter(); got != tt.wantAfter {
				t.Errorf("HasAfter() = %v, want %v", got, tt.wantAfter)
			}
		})
	}
}

func TestEvent_Key(t *testing.T) {
	t.Run("it prefers the after image", func(t *testing.T) {
		e := Event{
			KeyColumns: []string{"ID"},
			Before:     map[string]any{"ID": 1, "NAME": "old"},
			After:      map[string]any{"ID": 2, "NAME": "new"},
		}
		if diff := cmp.Diff(map[string]any{"ID": 2}, e.Key()); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("it falls back to the before image", func(t *testing.T) {
		e := Event{
			KeyColumns: []string{"ID"},
			Before:     map[string]any{"ID": 1},
		}
		if diff := cmp.Diff(map[string]any{"ID": 1}, e.Key()); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("it returns nil without key columns", func(t *testing.T) {
		e := Event{After: map[string]any{"ID": 1}}
		if e.Key() != nil {
			t.Errorf("Key() = %v, want nil", e.Key())
		}
	})
}

func TestCheckpoint_Position(t *testing.T) {
	pos := journal.ProcessedPosition{
		Offset:    18446744073709551615,
		Receiver:  journal.NewReceiver("RCV0042", "JRNLIB"),
		Time:      time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		Processed: true,
	}

	cp := NewCheckpoint("orders", pos)

	if cp.SourceID != "orders" || cp.ReceiverName != "RCV0042" || cp.ReceiverLibrary != "JRNLIB" {
		t.Fatalf("NewCheckpoint() = %+v", cp)
	}
	if diff := cmp.Diff(pos, cp.Position()); diff != "" {
		t.Fatal(diff)
	}
}
