package chain_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/janovincze/philotes-ibmi/internal/journal"
	. "github.com/janovincze/philotes-ibmi/internal/journal/chain"
	"github.com/janovincze/philotes-ibmi/internal/journal/journaltest"
)

func receiverNames(c Chain) []string {
	var names []string
	for _, d := range c.Receivers() {
		names = append(names, d.Receiver().Name)
	}
	return names
}

func TestResolve(t *testing.T) {
	t.Run("when the listing is unordered", func(t *testing.T) {
		detached, attached := journaltest.Split(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
			journaltest.Span{Start: 21, End: 30},
		))
		shuffled := []journal.DetailedReceiver{detached[1], detached[0]}

		c := Resolve(shuffled, attached)

		t.Run("it orders receivers by attach time", func(t *testing.T) {
			want := []string{"RCV0001", "RCV0002", "RCV0003"}
			if diff := cmp.Diff(want, receiverNames(c)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it ends at the attached receiver", func(t *testing.T) {
			if c.Tail.Receiver() != attached.Receiver() {
				t.Fatalf("Tail = %v, want %v", c.Tail.Receiver(), attached.Receiver())
			}
			if len(c.Breaks) != 0 {
				t.Fatalf("unexpected breaks: %v", c.Breaks)
			}
		})
	})

	t.Run("when the listing holds a stale copy of the attached receiver", func(t *testing.T) {
		detached, attached := journaltest.Split(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
		))
		stale := attached
		stale.End = 12
		attached.End = 25

		c := Resolve(append(detached, stale), attached)

		t.Run("it uses the fresh end offset", func(t *testing.T) {
			if got := c.Find(attached.Receiver()).Details.End; got != 25 {
				t.Fatalf("End = %v, want 25", got)
			}
		})
	})

	t.Run("when a receiver is partial", func(t *testing.T) {
		detached, attached := journaltest.Split(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
			journaltest.Span{Start: 21, End: 30},
			journaltest.Span{Start: 31, End: 40},
		))
		detached[1].Info.Status = journal.StatusPartial

		c := Resolve(detached, attached)

		t.Run("it discards the receivers before the break", func(t *testing.T) {
			want := []string{"RCV0003", "RCV0004"}
			if diff := cmp.Diff(want, receiverNames(c)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it reports the break", func(t *testing.T) {
			if len(c.Breaks) != 1 || c.Breaks[0].Reason != BreakPartial {
				t.Fatalf("Breaks = %v", c.Breaks)
			}
		})

		t.Run("it reports receivers cut off by the break", func(t *testing.T) {
			b, ok := c.Excluded(journaltest.Receiver(1))
			if !ok {
				t.Fatal("expected RCV0001 to be excluded")
			}
			if b.Receiver != journaltest.Receiver(2) {
				t.Fatalf("break receiver = %v, want RCV0002", b.Receiver)
			}
			if !c.Listed(journaltest.Receiver(1)) {
				t.Fatal("expected RCV0001 to be listed")
			}
		})

		t.Run("it lists breaks before a receiver", func(t *testing.T) {
			if got := c.BreaksBefore(journaltest.Receiver(3)); len(got) != 1 {
				t.Fatalf("BreaksBefore() = %v, want one break", got)
			}
			if got := c.BreaksBefore(journaltest.Receiver(2)); len(got) != 0 {
				t.Fatalf("BreaksBefore() = %v, want none", got)
			}
		})
	})

	t.Run("when a successor pointer dangles", func(t *testing.T) {
		detached, attached := journaltest.Split(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
			journaltest.Span{Start: 21, End: 30},
		))
		detached[0].Next = journal.NewReceiver("GONE", journaltest.Library)

		c := Resolve(detached, attached)

		if len(c.Breaks) != 1 || c.Breaks[0].Reason != BreakDanglingNext {
			t.Fatalf("Breaks = %v", c.Breaks)
		}
		if c.Find(journaltest.Receiver(1)) != nil {
			t.Fatal("expected RCV0001 to be left out of the chain")
		}
		if c.Head.Receiver() != journaltest.Receiver(2) {
			t.Fatalf("Head = %v, want RCV0002", c.Head.Receiver())
		}
	})

	t.Run("when sequence numbering restarts", func(t *testing.T) {
		detached, attached := journaltest.Split(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 1, End: 10},
		))

		c := Resolve(detached, attached)

		t.Run("it keeps the link and records the reset", func(t *testing.T) {
			if c.Len() != 2 {
				t.Fatalf("Len() = %d, want 2", c.Len())
			}
			want := []Reset{{From: journaltest.Receiver(1), To: journaltest.Receiver(2)}}
			if diff := cmp.Diff(want, c.Resets); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when only the attached receiver exists", func(t *testing.T) {
		_, attached := journaltest.Split(journaltest.Chain(journaltest.Span{Start: 1, End: 5}))

		c := Resolve(nil, attached)

		if c.Head != c.Tail || c.Len() != 1 {
			t.Fatalf("expected a single link chain, got %v", receiverNames(c))
		}
	})
}

func TestCache(t *testing.T) {
	detached, attached := journaltest.Split(journaltest.Chain(
		journaltest.Span{Start: 1, End: 10},
		journaltest.Span{Start: 11, End: 20},
		journaltest.Span{Start: 21, End: 30},
	))

	c := NewCache()

	t.Run("it refuses the attached receiver", func(t *testing.T) {
		if c.Put(attached) {
			t.Fatal("expected Put() to reject the attached receiver")
		}
	})

	t.Run("it stores detached receivers", func(t *testing.T) {
		for _, d := range detached {
			if !c.Put(d) {
				t.Fatalf("Put(%v) rejected", d.Receiver())
			}
		}
		if _, ok := c.Get(detached[0].Receiver()); !ok {
			t.Fatal("expected a cache hit")
		}
	})

	t.Run("it evicts receivers missing from the latest listing", func(t *testing.T) {
		evicted := c.Reconcile([]journal.ReceiverInfo{detached[1].Info, attached.Info})
		if evicted != 1 {
			t.Fatalf("Reconcile() = %d, want 1", evicted)
		}
		if _, ok := c.Get(detached[0].Receiver()); ok {
			t.Fatal("expected RCV0001 to be evicted")
		}
		if c.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", c.Len())
		}
	})

	t.Run("it evicts receivers whose status changed", func(t *testing.T) {
		info := detached[1].Info
		info.Status = journal.StatusFreed
		if evicted := c.Reconcile([]journal.ReceiverInfo{info}); evicted != 1 {
			t.Fatalf("Reconcile() = %d, want 1", evicted)
		}
	})
}
