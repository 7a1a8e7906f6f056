package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/cdc/buffer"
	"github.com/janovincze/philotes-ibmi/internal/cdc/checkpoint"
	. "github.com/janovincze/philotes-ibmi/internal/cdc/pipeline"
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

func position(n journal.Offset) journal.ProcessedPosition {
	return journal.ProcessedPosition{
		Offset:    n,
		Receiver:  journal.NewReceiver("RCV0001", "JRNLIB"),
		Processed: true,
	}
}

func event(n journal.Offset) cdc.Event {
	return cdc.Event{
		Source:    "orders",
		Position:  position(n),
		Schema:    "APPLIB",
		Table:     "ORDERS",
		Operation: cdc.OperationInsert,
		After:     map[string]any{"ID": int32(n)},
	}
}

// fakeSource delivers a fixed list of events, then ends with err.
type fakeSource struct {
	events []cdc.Event
	err    error

	mu      sync.Mutex
	seek    *journal.ProcessedPosition
	pos     journal.ProcessedPosition
	stopped bool
}

func (s *fakeSource) Name() string { return "orders" }

func (s *fakeSource) Seek(pos journal.ProcessedPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seek = &pos
	s.pos = pos
	return nil
}

func (s *fakeSource) Start(ctx context.Context) (<-chan cdc.Event, <-chan error) {
	out := make(chan cdc.Event)
	errs := make(chan error, 1)

	go func() {
		err := s.run(ctx, out)
		close(out)
		if err != nil {
			errs <- err
		}
		close(errs)
	}()
	return out, errs
}

func (s *fakeSource) run(ctx context.Context, out chan<- cdc.Event) error {
	for _, e := range s.events {
		select {
		case out <- e:
		case <-ctx.Done():
			return nil
		}
		s.mu.Lock()
		s.pos = e.Position
		s.mu.Unlock()
	}
	return s.err
}

func (s *fakeSource) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSource) Position() journal.ProcessedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// failingBuffer accepts a number of events, then rejects every write.
type failingBuffer struct {
	*buffer.MemoryManager
	accept int
}

func (b *failingBuffer) Write(ctx context.Context, events []cdc.Event) error {
	if len(b.Events()) >= b.accept {
		return NewNonRetryableError(errors.New("disk full"))
	}
	return b.MemoryManager.Write(ctx, events)
}

// failingCheckpoints fails every load.
type failingCheckpoints struct {
	*checkpoint.MemoryManager
}

func (failingCheckpoints) Load(context.Context, string) (*cdc.Checkpoint, error) {
	return nil, errors.New("connection refused")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckpointInterval = time.Hour
	cfg.Backpressure.Enabled = false
	return cfg
}

func offsets(events []cdc.Event) []journal.Offset {
	var out []journal.Offset
	for _, e := range events {
		out = append(out, e.Position.Offset)
	}
	return out
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("when the source delivers events and ends", func(t *testing.T) {
		src := &fakeSource{events: []cdc.Event{event(1), event(2), event(3)}}
		cps := checkpoint.NewMemoryManager()
		buf := buffer.NewMemoryManager()
		p := New(src, cps, buf, testConfig(), nil)

		if err := p.Run(ctx); err != nil {
			t.Fatal(err)
		}

		t.Run("it buffers every event in order", func(t *testing.T) {
			if diff := cmp.Diff([]journal.Offset{1, 2, 3}, offsets(buf.Events())); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it saves the final position", func(t *testing.T) {
			cp, err := cps.Load(ctx, "orders")
			if err != nil {
				t.Fatal(err)
			}
			if cp == nil || cp.Position() != position(3) {
				t.Fatalf("checkpoint = %v, want %v", cp, position(3))
			}
		})

		t.Run("it stops", func(t *testing.T) {
			if p.State().State() != StateStopped {
				t.Fatalf("state = %v, want stopped", p.State().State())
			}
			if !src.stopped {
				t.Fatal("source was not stopped")
			}
			if got := p.Stats().EventsBuffered; got != 3 {
				t.Fatalf("EventsBuffered = %d, want 3", got)
			}
		})
	})

	t.Run("when a checkpoint exists", func(t *testing.T) {
		src := &fakeSource{events: []cdc.Event{event(8)}}
		cps := checkpoint.NewMemoryManager()
		if err := cps.Save(ctx, cdc.NewCheckpoint("orders", position(7))); err != nil {
			t.Fatal(err)
		}
		p := New(src, cps, buffer.NewMemoryManager(), testConfig(), nil)

		if err := p.Run(ctx); err != nil {
			t.Fatal(err)
		}

		t.Run("it seeks the source to the checkpoint", func(t *testing.T) {
			if src.seek == nil || *src.seek != position(7) {
				t.Fatalf("Seek() = %v, want %v", src.seek, position(7))
			}
		})
	})

	t.Run("when the checkpoint cannot be loaded", func(t *testing.T) {
		src := &fakeSource{events: []cdc.Event{event(1)}}
		p := New(src, failingCheckpoints{checkpoint.NewMemoryManager()}, buffer.NewMemoryManager(), testConfig(), nil)

		err := p.Run(ctx)

		t.Run("it fails without reading the journal", func(t *testing.T) {
			if err == nil {
				t.Fatal("expected an error")
			}
			if src.seek != nil {
				t.Fatal("expected no seek")
			}
			if p.State().State() != StateFailed {
				t.Fatalf("state = %v, want failed", p.State().State())
			}
		})
	})

	t.Run("when the buffer rejects an event", func(t *testing.T) {
		src := &fakeSource{events: []cdc.Event{event(1), event(2), event(3)}}
		cps := checkpoint.NewMemoryManager()
		buf := &failingBuffer{MemoryManager: buffer.NewMemoryManager(), accept: 2}
		p := New(src, cps, buf, testConfig(), nil)

		err := p.Run(ctx)

		t.Run("it fails", func(t *testing.T) {
			if err == nil {
				t.Fatal("expected an error")
			}
			if p.State().State() != StateFailed {
				t.Fatalf("state = %v, want failed", p.State().State())
			}
		})

		t.Run("it checkpoints the last buffered event", func(t *testing.T) {
			cp, _ := cps.Load(ctx, "orders")
			if cp == nil || cp.Position() != position(2) {
				t.Fatalf("checkpoint = %v, want %v", cp, position(2))
			}
		})
	})

	t.Run("when the source fails", func(t *testing.T) {
		cause := journal.NewError(journal.KindChainUnresolved, "find range", errors.New("receiver chain is broken"))
		src := &fakeSource{events: []cdc.Event{event(1)}, err: cause}
		cps := checkpoint.NewMemoryManager()
		p := New(src, cps, buffer.NewMemoryManager(), testConfig(), nil)

		err := p.Run(ctx)

		t.Run("it returns the source error", func(t *testing.T) {
			if !errors.Is(err, journal.ErrChainUnresolved) {
				t.Fatalf("error = %v, want ErrChainUnresolved", err)
			}
		})

		t.Run("it keeps the delivered position", func(t *testing.T) {
			cp, _ := cps.Load(ctx, "orders")
			if cp == nil || cp.Position() != position(1) {
				t.Fatalf("checkpoint = %v, want %v", cp, position(1))
			}
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	cfg := DefaultConfig()
	cfg.Backpressure.LowWatermark = cfg.Backpressure.HighWatermark
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
	}
}
