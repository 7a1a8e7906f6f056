package ibmi_test

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/cdc/deadletter"
	. "github.com/janovincze/philotes-ibmi/internal/cdc/source/ibmi"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/catalog"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/hostcall"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/journaltest"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire/wiretest"
)

// host serves one attached receiver and a queue of retrieval responses.
// Retrievals past the queue report that no entries matched.
type host struct {
	mu         sync.Mutex
	chain      []journal.DetailedReceiver
	responses  [][]byte
	retrievals int

	// rejected names a file the host refuses to filter on, reporting
	// rejectText as the message text.
	rejected   string
	rejectText string
}

func newHost(end journal.Offset, responses ...[]byte) *host {
	return &host{
		chain:     journaltest.Chain(journaltest.Span{Start: 1, End: end}),
		responses: responses,
	}
}

func (h *host) Call(_ context.Context, call hostcall.ProgramCall) ([][]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case call.Procedure == wire.RetrieveProcedure:
		h.retrievals++
		if h.rejected != "" && slices.Contains(filterFiles(call), h.rejected) {
			return nil, &hostcall.HostError{Program: call.String(), MessageID: hostcall.MsgNotJournaled, Text: h.rejectText}
		}
		if len(h.responses) == 0 {
			return nil, &hostcall.HostError{Program: call.String(), MessageID: hostcall.MsgNoEntries}
		}
		resp := h.responses[0]
		h.responses = h.responses[1:]
		return [][]byte{wiretest.Padded(resp, 256), nil, nil, nil, nil}, nil

	case call.Procedure == wire.JournalInfoProc:
		var dir []journal.ReceiverInfo
		for _, d := range h.chain {
			dir = append(dir, d.Info)
		}
		_, attached := journaltest.Split(h.chain)
		return [][]byte{wiretest.JournalInfo(attached.Receiver(), dir), nil, nil, nil}, nil

	case call.Program == wire.ReceiverInfoProgram:
		name := call.Params[3].Input
		r := journal.NewReceiver(ccsid.Text(name[:10]), ccsid.Text(name[10:]))
		for _, d := range h.chain {
			if d.Receiver() == r {
				return [][]byte{wiretest.ReceiverDetails(d), nil, nil, nil}, nil
			}
		}
		return nil, &hostcall.HostError{Program: call.String(), MessageID: hostcall.MsgReceiverRangeInvalid}
	}

	return nil, errors.New("unexpected program " + call.String())
}

// filterFiles returns the file names of a retrieval's file filter.
func filterFiles(call hostcall.ProgramCall) []string {
	sel, err := wire.DecodeSelection(call.Params[4].Input)
	if err != nil {
		return nil
	}
	data := sel[wire.KeyFiles]
	if len(data) < 4 {
		return nil
	}
	var names []string
	for i := range int(binary.BigEndian.Uint32(data)) {
		off := 4 + i*30
		names = append(names, ccsid.Text(data[off:off+10]))
	}
	return names
}

// tables is a catalog holding APPLIB/ORDERS. Only MISSING is unknown.
type tables struct{}

func (tables) Columns(_ context.Context, _, table string) ([]catalog.Column, error) {
	if table != "ORDERS" {
		return nil, catalog.ErrTableNotFound
	}
	return []catalog.Column{
		{Name: "ID", DataType: "INTEGER", Length: 4},
		{Name: "NAME", DataType: "CHAR", Length: 4, CCSID: 37},
	}, nil
}

func (tables) PrimaryKeys(context.Context, string, string) ([]string, error) {
	return []string{"ID"}, nil
}

func (tables) LongName(_ context.Context, _, systemName string) (string, error) {
	return systemName, nil
}

func (tables) SystemName(_ context.Context, _, longName string) (string, error) {
	if longName == "MISSING" {
		return "", catalog.ErrTableNotFound
	}
	return longName, nil
}

func (tables) BytesPerChar(_ context.Context, id int) (int, error) {
	return catalog.KnownBytesPerChar(id), nil
}

// queue is an in-memory dead-letter queue.
type queue struct {
	mu      sync.Mutex
	entries []deadletter.FailedEntry
}

func (q *queue) Write(_ context.Context, e deadletter.FailedEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	return nil
}

func (q *queue) written() []deadletter.FailedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]deadletter.FailedEntry(nil), q.entries...)
}

func (q *queue) Read(context.Context, int) ([]deadletter.FailedEntry, error) { return nil, nil }
func (q *queue) ReadBySource(context.Context, string, int) ([]deadletter.FailedEntry, error) {
	return nil, nil
}
func (q *queue) ReadByTable(context.Context, string, string, int) ([]deadletter.FailedEntry, error) {
	return nil, nil
}
func (q *queue) MarkRetried(context.Context, int64) error { return nil }
func (q *queue) Delete(context.Context, ...int64) error { return nil }
func (q *queue) Cleanup(context.Context) (int64, error) { return 0, nil }
func (q *queue) Count(context.Context) (int64, error) { return int64(len(q.written())), nil }
func (q *queue) Close() error { return nil }

func record(t *testing.T, id uint32, name string) []byte {
	t.Helper()
	b := binary.BigEndian.AppendUint32(nil, id)
	text, err := ccsid.Pad(name, 4)
	if err != nil {
		t.Fatal(err)
	}
	return append(b, text...)
}

func readerConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Journal = journal.NewObjectName("QSQJRN", journaltest.Library)
	cfg.Tables = []string{"APPLIB.ORDERS"}
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = time.Millisecond
	return cfg
}

func start(t *testing.T, r *Reader) (<-chan cdc.Event, <-chan error) {
	t.Helper()
	events, errs := r.Start(t.Context())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return events, errs
}

func next(t *testing.T, events <-chan cdc.Event) cdc.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return cdc.Event{}
}

func stop(t *testing.T, r *Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestReader(t *testing.T) {
	t.Run("when the journal holds row changes", func(t *testing.T) {
		truncate := wiretest.Record(6, "CR", "ORDERS", nil)
		truncate.JournalCode = "F"
		h := newHost(6, wiretest.Response(journal.Position{},
			wiretest.Record(1, "PT", "ORDERS", record(t, 1, "AB")),
			wiretest.Record(2, "UB", "ORDERS", record(t, 1, "AB")),
			wiretest.Record(3, "PT", "ORDERS", record(t, 2, "CD")),
			wiretest.Record(4, "UP", "ORDERS", record(t, 1, "XY")),
			wiretest.Record(5, "DL", "ORDERS", record(t, 2, "CD")),
			truncate,
		))

		r, err := New(h, tables{}, nil, readerConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		events, _ := start(t, r)

		first := next(t, events)
		second := next(t, events)

		t.Run("it holds the position while a before image is pending", func(t *testing.T) {
			if got := r.Position().Offset; got != 1 {
				t.Fatalf("Position().Offset = %v, want 1", got)
			}
		})

		update := next(t, events)
		del := next(t, events)
		trunc := next(t, events)
		stop(t, r)

		t.Run("it emits inserts with the after image", func(t *testing.T) {
			if first.Operation != cdc.OperationInsert || first.Position.Offset != 1 {
				t.Fatalf("first = %s at %v", first.Operation, first.Position)
			}
			if diff := cmp.Diff(int32(1), first.After["ID"]); diff != "" {
				t.Fatal(diff)
			}
			if first.Before != nil {
				t.Fatalf("unexpected before image %v", first.Before)
			}
			if diff := cmp.Diff([]string{"ID"}, first.KeyColumns); diff != "" {
				t.Fatal(diff)
			}
			if second.Operation != cdc.OperationInsert || second.Position.Offset != 3 {
				t.Fatalf("second = %s at %v", second.Operation, second.Position)
			}
		})

		t.Run("it pairs the update with its before image", func(t *testing.T) {
			if update.Operation != cdc.OperationUpdate || update.Position.Offset != 4 {
				t.Fatalf("update = %s at %v", update.Operation, update.Position)
			}
			if update.Before["NAME"] != "AB  " || update.After["NAME"] != "XY  " {
				t.Fatalf("before = %v, after = %v", update.Before, update.After)
			}
		})

		t.Run("it emits deletes with the before image", func(t *testing.T) {
			if del.Operation != cdc.OperationDelete || del.After != nil {
				t.Fatalf("delete = %s, after = %v", del.Operation, del.After)
			}
			if diff := cmp.Diff(int32(2), del.Before["ID"]); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("it emits truncates for cleared members", func(t *testing.T) {
			if trunc.Operation != cdc.OperationTruncate || trunc.FullyQualifiedTable() != "APPLIB.ORDERS" {
				t.Fatalf("truncate = %s on %s", trunc.Operation, trunc.FullyQualifiedTable())
			}
		})

		t.Run("it describes where the change came from", func(t *testing.T) {
			if first.Source != "test" || first.EntryType != "R.PT" {
				t.Fatalf("Source = %q, EntryType = %q", first.Source, first.EntryType)
			}
			if first.ID == "" || first.ID == second.ID {
				t.Fatalf("event IDs %q and %q are not unique", first.ID, second.ID)
			}
		})

		t.Run("it advances to the end of the journal", func(t *testing.T) {
			want := journal.Position{Offset: 6, Receiver: journaltest.Receiver(1)}
			if diff := cmp.Diff(want, r.Position().Position()); diff != "" {
				t.Fatal(diff)
			}
			if r.LastFetch().IsZero() {
				t.Fatal("expected LastFetch to be set")
			}
		})
	})

	t.Run("when an entry cannot be decoded", func(t *testing.T) {
		h := newHost(2, wiretest.Response(journal.Position{},
			wiretest.Record(1, "PT", "ORDERS", []byte{0x00, 0x01}),
			wiretest.Record(2, "PT", "ORDERS", record(t, 2, "CD")),
		))
		dlq := &queue{}

		r, err := New(h, tables{}, dlq, readerConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		events, _ := start(t, r)
		ev := next(t, events)
		stop(t, r)

		t.Run("it dead-letters the entry", func(t *testing.T) {
			got := dlq.written()
			if len(got) != 1 {
				t.Fatalf("dead-lettered %d entries, want 1", len(got))
			}
			if got[0].Position.Offset != 1 || got[0].ErrorType != deadletter.ErrorTypeDecode {
				t.Fatalf("entry at %v with type %s", got[0].Position, got[0].ErrorType)
			}
			if got[0].SourceID != "test" || len(got[0].RawEntry) == 0 {
				t.Fatalf("SourceID = %q, raw bytes = %d", got[0].SourceID, len(got[0].RawEntry))
			}
		})

		t.Run("it continues with the next entry", func(t *testing.T) {
			if ev.Position.Offset != 2 {
				t.Fatalf("event at %v, want 2", ev.Position)
			}
		})
	})

	t.Run("when an entry is malformed", func(t *testing.T) {
		broken := wiretest.Record(1, "PT", "ORDERS", record(t, 1, "AB"))
		broken.DataDisplacement = 99999
		h := newHost(2, wiretest.Response(journal.Position{},
			broken,
			wiretest.Record(2, "PT", "ORDERS", record(t, 2, "CD")),
		))
		dlq := &queue{}

		r, err := New(h, tables{}, dlq, readerConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		events, _ := start(t, r)
		ev := next(t, events)
		stop(t, r)

		t.Run("it dead-letters the entry", func(t *testing.T) {
			got := dlq.written()
			if len(got) != 1 {
				t.Fatalf("dead-lettered %d entries, want 1", len(got))
			}
			if got[0].Position.Offset != 1 || got[0].ErrorType != deadletter.ErrorTypeDecode {
				t.Fatalf("entry at %v with type %s", got[0].Position, got[0].ErrorType)
			}
		})

		t.Run("it continues with the next entry", func(t *testing.T) {
			if ev.Position.Offset != 2 {
				t.Fatalf("event at %v, want 2", ev.Position)
			}
		})
	})

	t.Run("when the host rejects a table of the filter", func(t *testing.T) {
		orders := func() []byte {
			return wiretest.Response(journal.Position{},
				wiretest.Record(1, "PT", "ORDERS", record(t, 1, "AB")),
			)
		}
		cfg := readerConfig()
		cfg.Tables = []string{"APPLIB.ORDERS", "APPLIB.AUDIT"}

		t.Run("it drops the table named by the host and keeps streaming", func(t *testing.T) {
			h := newHost(1, orders())
			h.rejected = "AUDIT"
			h.rejectText = "File AUDIT in library APPLIB not journaled."

			r, err := New(h, tables{}, nil, cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			events, _ := start(t, r)
			ev := next(t, events)
			stop(t, r)

			if ev.FullyQualifiedTable() != "APPLIB.ORDERS" || ev.Position.Offset != 1 {
				t.Fatalf("event on %s at %v", ev.FullyQualifiedTable(), ev.Position)
			}
		})

		t.Run("it finds the table by trying each one when the host does not name it", func(t *testing.T) {
			h := newHost(1, orders(), orders())
			h.rejected = "AUDIT"

			r, err := New(h, tables{}, nil, cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			events, _ := start(t, r)
			ev := next(t, events)
			stop(t, r)

			if ev.FullyQualifiedTable() != "APPLIB.ORDERS" || ev.Position.Offset != 1 {
				t.Fatalf("event on %s at %v", ev.FullyQualifiedTable(), ev.Position)
			}
		})

		t.Run("it fails once no table is left", func(t *testing.T) {
			h := newHost(1, orders())
			h.rejected = "AUDIT"
			only := readerConfig()
			only.Tables = []string{"APPLIB.AUDIT"}

			r, err := New(h, tables{}, nil, only, nil)
			if err != nil {
				t.Fatal(err)
			}
			_, errs := start(t, r)
			select {
			case err := <-errs:
				if !errors.Is(err, ErrNoTables) {
					t.Fatalf("error = %v, want ErrNoTables", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for the reader to fail")
			}
		})
	})

	t.Run("when a table is missing from the catalog", func(t *testing.T) {
		h := newHost(1, wiretest.Response(journal.Position{},
			wiretest.Record(1, "PT", "ORDERS", record(t, 1, "AB")),
		))
		cfg := readerConfig()
		cfg.Tables = []string{"APPLIB.ORDERS", "APPLIB.MISSING"}

		r, err := New(h, tables{}, nil, cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		events, _ := start(t, r)
		ev := next(t, events)
		stop(t, r)

		t.Run("it captures the remaining tables", func(t *testing.T) {
			if ev.FullyQualifiedTable() != "APPLIB.ORDERS" {
				t.Fatalf("event on %s", ev.FullyQualifiedTable())
			}
		})
	})

	t.Run("when the position's receiver is gone", func(t *testing.T) {
		lost := journal.ProcessedPosition{
			Offset:    3,
			Receiver:  journaltest.Receiver(9),
			Processed: true,
		}

		t.Run("it fails without a reset", func(t *testing.T) {
			h := newHost(1)
			r, err := New(h, tables{}, nil, readerConfig(), nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := r.Seek(lost); err != nil {
				t.Fatal(err)
			}

			events, errs := start(t, r)
			for range events {
				t.Fatal("unexpected event")
			}
			if err := <-errs; !errors.Is(err, journal.ErrInvalidPosition) {
				t.Fatalf("error = %v, want ErrInvalidPosition", err)
			}
			if h.retrievals != 0 {
				t.Fatalf("retrieved %d times", h.retrievals)
			}
		})

		t.Run("it restarts from the beginning with a reset", func(t *testing.T) {
			h := newHost(1, wiretest.Response(journal.Position{},
				wiretest.Record(1, "PT", "ORDERS", record(t, 1, "AB")),
			))
			cfg := readerConfig()
			cfg.ResetOnReceiverLoss = true
			r, err := New(h, tables{}, nil, cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			if err := r.Seek(lost); err != nil {
				t.Fatal(err)
			}

			events, _ := start(t, r)
			ev := next(t, events)
			stop(t, r)

			want := journal.Position{Offset: 1, Receiver: journaltest.Receiver(1)}
			if diff := cmp.Diff(want, ev.Position.Position()); diff != "" {
				t.Fatal(diff)
			}
		})
	})

	t.Run("when it is used out of order", func(t *testing.T) {
		r, err := New(newHost(1), tables{}, nil, readerConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}

		if err := r.Stop(t.Context()); !errors.Is(err, ErrNotStarted) {
			t.Fatalf("Stop() error = %v, want ErrNotStarted", err)
		}

		start(t, r)
		if err := r.Seek(journal.BeginningPosition()); !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("Seek() error = %v, want ErrAlreadyStarted", err)
		}
		_, errs := r.Start(t.Context())
		if err := <-errs; !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("Start() error = %v, want ErrAlreadyStarted", err)
		}
	})

	t.Run("when the config is invalid", func(t *testing.T) {
		cfg := readerConfig()
		cfg.Journal = journal.ObjectName{}
		if _, err := New(newHost(1), tables{}, nil, cfg, nil); !errors.Is(err, ErrMissingJournal) {
			t.Fatalf("New() error = %v, want ErrMissingJournal", err)
		}
	})
}
