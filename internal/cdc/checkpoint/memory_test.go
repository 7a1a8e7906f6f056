package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	. "github.com/janovincze/philotes-ibmi/internal/cdc/checkpoint"
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

func TestMemoryManager(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	t.Run("when the source has no checkpoint", func(t *testing.T) {
		cp, err := m.Load(ctx, "orders")
		if err != nil {
			t.Fatal(err)
		}
		if cp != nil {
			t.Fatalf("Load() = %v, want nil", cp)
		}
	})

	t.Run("when a checkpoint is saved", func(t *testing.T) {
		pos := journal.ProcessedPosition{
			Offset:    18446744073709551000,
			Receiver:  journal.NewReceiver("RCV0002", "JRNLIB"),
			Time:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			Processed: true,
		}
		if err := m.Save(ctx, cdc.NewCheckpoint("orders", pos)); err != nil {
			t.Fatal(err)
		}

		cp, err := m.Load(ctx, "orders")
		if err != nil {
			t.Fatal(err)
		}

		t.Run("it restores the position", func(t *testing.T) {
			if diff := cmp.Diff(pos, cp.Position()); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it stamps the commit time", func(t *testing.T) {
			if cp.CommittedAt.IsZero() {
				t.Fatal("CommittedAt is zero")
			}
		})

		t.Run("it replaces the previous checkpoint", func(t *testing.T) {
			next := pos.ConsumedAt(journal.Position{Offset: 5, Receiver: journal.NewReceiver("RCV0003", "JRNLIB")})
			if err := m.Save(ctx, cdc.NewCheckpoint("orders", next)); err != nil {
				t.Fatal(err)
			}
			cp, err := m.Load(ctx, "orders")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(next, cp.Position()); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when a checkpoint is deleted", func(t *testing.T) {
		if err := m.Delete(ctx, "orders"); err != nil {
			t.Fatal(err)
		}
		if cp, _ := m.Load(ctx, "orders"); cp != nil {
			t.Fatalf("Load() = %v, want nil", cp)
		}
	})
}
