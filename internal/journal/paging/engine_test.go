package paging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/journaltest"
	. "github.com/janovincze/philotes-ibmi/internal/journal/paging"
)

type receiverSource struct {
	receivers []journal.DetailedReceiver
	unlisted  map[journal.Receiver]bool

	listCalls   int
	detailCalls int
	attachedErr error
	listErr     error
}

func newReceiverSource(receivers []journal.DetailedReceiver) *receiverSource {
	return &receiverSource{
		receivers: receivers,
		unlisted:  map[journal.Receiver]bool{},
	}
}

func (s *receiverSource) ListReceivers(context.Context) ([]journal.ReceiverInfo, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []journal.ReceiverInfo
	for _, d := range s.receivers {
		if !s.unlisted[d.Receiver()] {
			out = append(out, d.Info)
		}
	}
	return out, nil
}

func (s *receiverSource) ReceiverDetails(_ context.Context, info journal.ReceiverInfo) (journal.DetailedReceiver, error) {
	s.detailCalls++
	for _, d := range s.receivers {
		if d.Receiver() == info.Receiver {
			return d, nil
		}
	}
	return journal.DetailedReceiver{}, errors.New("no such receiver")
}

func (s *receiverSource) AttachedReceiver(context.Context) (journal.DetailedReceiver, error) {
	if s.attachedErr != nil {
		return journal.DetailedReceiver{}, s.attachedErr
	}
	return s.receivers[len(s.receivers)-1], nil
}

func processed(offset journal.Offset, n int) journal.ProcessedPosition {
	return journal.ProcessedPosition{
		Offset:    offset,
		Receiver:  journaltest.Receiver(n),
		Processed: true,
	}
}

func at(offset journal.Offset, n int) journal.Position {
	return journal.Position{Offset: offset, Receiver: journaltest.Receiver(n)}
}

func TestEngine_FindRange(t *testing.T) {
	t.Run("when starting from the beginning", func(t *testing.T) {
		src := newReceiverSource(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
		))
		e := New(src, Config{Name: "test"}, nil)

		r, err := e.FindRange(t.Context(), journal.BeginningPosition(), 5)
		if err != nil {
			t.Fatal(err)
		}

		t.Run("it returns a range ending at the journal end", func(t *testing.T) {
			want := journal.PositionRange{
				FromBeginning: true,
				End:           at(20, 2),
				JournalEnd:    at(20, 2),
			}
			if diff := cmp.Diff(want, r); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it does not list receivers", func(t *testing.T) {
			if src.listCalls != 0 {
				t.Fatalf("ListReceivers() called %d times", src.listCalls)
			}
		})
	})

	t.Run("when the start is in the attached receiver", func(t *testing.T) {
		src := newReceiverSource(journaltest.Chain(journaltest.Span{Start: 1, End: 100}))
		e := New(src, Config{}, nil)

		cases := []struct {
			name  string
			start journal.ProcessedPosition
			max   uint64
			want  journal.Position
			empty bool
		}{
			{"it advances by the maximum", processed(50, 1), 10, at(60, 1), false},
			{"it caps at the receiver end", processed(95, 1), 10, at(100, 1), false},
			{"it reports an exhausted journal", processed(100, 1), 10, at(100, 1), true},
		}

		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				r, err := e.FindRange(t.Context(), c.start, c.max)
				if err != nil {
					t.Fatal(err)
				}
				if !r.End.Equal(c.want) {
					t.Fatalf("End = %v, want %v", r.End, c.want)
				}
				if r.StartEqualsEnd() != c.empty {
					t.Fatalf("StartEqualsEnd() = %v, want %v", r.StartEqualsEnd(), c.empty)
				}
			})
		}

		t.Run("it rejects an offset beyond the receiver end", func(t *testing.T) {
			_, err := e.FindRange(t.Context(), processed(101, 1), 10)
			if !errors.Is(err, journal.ErrInvalidPosition) {
				t.Fatalf("expected ErrInvalidPosition, got %v", err)
			}
		})
	})

	t.Run("when the range spans receivers", func(t *testing.T) {
		src := newReceiverSource(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
			journaltest.Span{Start: 21, End: 31},
			journaltest.Span{Start: 41, End: 50},
		))
		e := New(src, Config{}, nil)

		r, err := e.FindRange(t.Context(), processed(25, 3), 10)
		if err != nil {
			t.Fatal(err)
		}

		t.Run("it continues in the successor receiver", func(t *testing.T) {
			if diff := cmp.Diff(at(45, 4), r.End); diff != "" {
				t.Fatal(diff)
			}
			if !r.Capped() {
				t.Fatal("expected the range to be capped")
			}
		})

		t.Run("it keeps the start unchanged", func(t *testing.T) {
			if diff := cmp.Diff(processed(25, 3), r.Start); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it returns the same range when called again", func(t *testing.T) {
			again, err := e.FindRange(t.Context(), processed(25, 3), 10)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(r, again); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it caches detached receivers", func(t *testing.T) {
			if src.detailCalls != 3 {
				t.Fatalf("ReceiverDetails() called %d times, want 3", src.detailCalls)
			}
			if e.Cache().Len() != 3 {
				t.Fatalf("Cache().Len() = %d, want 3", e.Cache().Len())
			}
		})
	})

	t.Run("when sequence numbering restarts", func(t *testing.T) {
		src := newReceiverSource(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 1, End: 10},
		))
		e := New(src, Config{}, nil)

		r, err := e.FindRange(t.Context(), processed(6, 1), 15)
		if err != nil {
			t.Fatal(err)
		}

		t.Run("it ends in the successor receiver", func(t *testing.T) {
			if diff := cmp.Diff(at(10, 2), r.End); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it counts the successor from its own first entry", func(t *testing.T) {
			r, err := e.FindRange(t.Context(), processed(6, 1), 8)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(at(5, 2), r.End); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when the start is the processed end of a detached receiver", func(t *testing.T) {
		chain := journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{},
			journaltest.Span{Start: 11, End: 20},
		)
		chain[1].Info.Status = journal.StatusEmpty
		chain[1].NumberOfEntries = 0
		src := newReceiverSource(chain)
		e := New(src, Config{}, nil)

		r, err := e.FindRange(t.Context(), processed(10, 1), 5)
		if err != nil {
			t.Fatal(err)
		}

		t.Run("it moves the start to the next non-empty receiver", func(t *testing.T) {
			want := journal.ProcessedPosition{
				Offset:   11,
				Receiver: journaltest.Receiver(3),
			}
			if diff := cmp.Diff(want, r.Start); diff != "" {
				t.Fatal(diff)
			}
			if diff := cmp.Diff(at(16, 3), r.End); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when the start receiver is no longer listed", func(t *testing.T) {
		src := newReceiverSource(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
		))
		src.unlisted[journaltest.Receiver(1)] = true
		e := New(src, Config{}, nil)

		_, err := e.FindRange(t.Context(), processed(5, 1), 5)

		t.Run("it reports an invalid position", func(t *testing.T) {
			if !errors.Is(err, journal.ErrInvalidPosition) {
				t.Fatalf("expected ErrInvalidPosition, got %v", err)
			}
			if !journal.IsReceiverLoss(err) {
				t.Fatal("expected a receiver loss")
			}
		})

		t.Run("it refreshes the listing once", func(t *testing.T) {
			if src.listCalls != 2 {
				t.Fatalf("ListReceivers() called %d times, want 2", src.listCalls)
			}
		})
	})

	t.Run("when the start receiver is cut off by a break", func(t *testing.T) {
		chain := journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
			journaltest.Span{Start: 21, End: 30},
		)
		chain[1].Info.Status = journal.StatusPartial

		t.Run("it fails by default", func(t *testing.T) {
			e := New(newReceiverSource(chain), Config{}, nil)

			_, err := e.FindRange(t.Context(), processed(5, 1), 5)
			if !errors.Is(err, journal.ErrChainUnresolved) {
				t.Fatalf("expected ErrChainUnresolved, got %v", err)
			}
		})

		t.Run("it resumes at the oldest reliable receiver when allowed", func(t *testing.T) {
			e := New(newReceiverSource(chain), Config{AllowChainBreak: true}, nil)

			r, err := e.FindRange(t.Context(), processed(5, 1), 5)
			if err != nil {
				t.Fatal(err)
			}
			want := journal.ProcessedPosition{Offset: 21, Receiver: journaltest.Receiver(3)}
			if diff := cmp.Diff(want, r.Start); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when a break precedes the start receiver", func(t *testing.T) {
		chain := journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
			journaltest.Span{Start: 21, End: 30},
		)
		chain[0].Info.Status = journal.StatusPartial
		e := New(newReceiverSource(chain), Config{}, nil)

		r, err := e.FindRange(t.Context(), processed(15, 2), 10)
		if err != nil {
			t.Fatal(err)
		}

		t.Run("it walks the chain as usual", func(t *testing.T) {
			if diff := cmp.Diff(at(26, 3), r.End); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when the host fails", func(t *testing.T) {
		src := newReceiverSource(journaltest.Chain(
			journaltest.Span{Start: 1, End: 10},
			journaltest.Span{Start: 11, End: 20},
		))
		src.listErr = errors.New("connection reset")
		e := New(src, Config{}, nil)

		_, err := e.FindRange(t.Context(), processed(5, 1), 5)

		t.Run("it reports a retryable retrieval failure", func(t *testing.T) {
			if !errors.Is(err, journal.ErrRetrievalFailure) {
				t.Fatalf("expected ErrRetrievalFailure, got %v", err)
			}
			var jerr *journal.Error
			if !errors.As(err, &jerr) || !jerr.IsRetryable() {
				t.Fatalf("expected a retryable error, got %v", err)
			}
		})
	})
}

func TestEngine_FindRange_singleReceiver(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		end := rapid.Uint64Range(1, 1<<40).Draw(t, "end")
		start := rapid.Uint64Range(1, end).Draw(t, "start")
		maxEntries := rapid.Uint64Range(0, 1<<20).Draw(t, "max")

		src := newReceiverSource(journaltest.Chain(journaltest.Span{
			Start: 1,
			End:   journal.Offset(end),
		}))
		e := New(src, Config{}, nil)

		r, err := e.FindRange(context.Background(), processed(journal.Offset(start), 1), maxEntries)
		if err != nil {
			t.Fatal(err)
		}

		want := journal.Offset(min(end, start+maxEntries))
		if r.End.Offset != want {
			t.Fatalf("End = %v, want %v", r.End.Offset, want)
		}
		if r.End.Offset < r.Start.Offset {
			t.Fatalf("End %v is before Start %v", r.End.Offset, r.Start.Offset)
		}
	})
}

func TestEngine_FindRange_chainBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "receivers")
		var spans []journaltest.Span
		next := journal.Offset(1)
		for range n {
			size := rapid.Uint64Range(1, 50).Draw(t, "size")
			gap := rapid.Uint64Range(0, 5).Draw(t, "gap")
			s := journaltest.Span{Start: next, End: next.Add(size - 1)}
			spans = append(spans, s)
			next = s.End.Add(gap + 1)
		}
		chain := journaltest.Chain(spans...)

		idx := rapid.IntRange(0, n-1).Draw(t, "start receiver")
		span := spans[idx]
		offset := journal.Offset(rapid.Uint64Range(uint64(span.Start), uint64(span.End)).Draw(t, "offset"))
		maxEntries := rapid.Uint64Range(0, 200).Draw(t, "max")

		e := New(newReceiverSource(chain), Config{}, nil)
		r, err := e.FindRange(context.Background(), journal.ProcessedPosition{
			Offset:   offset,
			Receiver: journaltest.Receiver(idx + 1),
		}, maxEntries)
		if err != nil {
			t.Fatal(err)
		}

		if r.End.Offset < r.Start.Offset {
			t.Fatalf("End %v is before Start %v", r.End, r.Start)
		}
		if r.End.Offset > r.JournalEnd.Offset {
			t.Fatalf("End %v is past the journal end %v", r.End, r.JournalEnd)
		}
		if r.End.Offset-r.Start.Offset > journal.Offset(maxEntries)+journal.Offset(5*n) {
			t.Fatalf("range %v is wider than %d entries plus gaps", r, maxEntries)
		}
	})
}
