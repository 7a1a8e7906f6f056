// Package retrieve issues bounded journal retrievals and iterates over the
// returned entries while tracking the resumable position.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/hostcall"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// RangeFinder computes the range of the next retrieval.
type RangeFinder interface {
	FindRange(ctx context.Context, start journal.ProcessedPosition, maxEntries uint64) (journal.PositionRange, error)
}

// Retriever reads one journal. It is not safe for concurrent use.
//
// A retrieval is started with RetrieveJournal and its entries are read with
// Next until it returns false. Position always returns the position to
// persist once the current entry has been handled.
type Retriever struct {
	caller hostcall.Caller
	finder RangeFinder
	config Config
	name   string
	logger *slog.Logger

	// files is the client-side file filter, set only when the file list
	// is too long for the host.
	files map[journal.ObjectName]bool

	// warnedNoBeforeImage holds the tables already reported as journaled
	// without entry-specific data.
	warnedNoBeforeImage map[journal.ObjectName]bool

	state    State
	rng      journal.PositionRange
	header   wire.FirstHeader
	buf      []byte
	next     int
	entry    wire.EntryHeader
	entryErr error
	position journal.ProcessedPosition
	err      error
}

// New creates a new Retriever.
func New(caller hostcall.Caller, finder RangeFinder, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Retriever{
		caller:              caller,
		finder:              finder,
		config:              cfg,
		name:                cfg.Journal.String(),
		logger:              logger.With("component", "journal-retriever", "journal", cfg.Journal.String()),
		warnedNoBeforeImage: make(map[journal.ObjectName]bool),
	}

	if len(cfg.Files) > wire.MaxFileFilters {
		r.logger.Warn("file filter too long for the host, filtering entries locally",
			"files", len(cfg.Files),
			"limit", wire.MaxFileFilters,
		)
		r.files = make(map[journal.ObjectName]bool, len(cfg.Files))
		for _, f := range cfg.Files {
			r.files[f] = true
		}
	}

	return r
}

// RetrieveJournal fetches the entries following prev. On success the
// entries are read with Next.
//
// A buffer too small for a single entry is reported as an error of kind
// KindBufferTooSmall. Unless FailOnBufferTooSmall is set the error is
// marked Recovered and the position already points at the continuation.
func (r *Retriever) RetrieveJournal(ctx context.Context, prev journal.ProcessedPosition) error {
	if err := r.transition(StateFetching); err != nil {
		return err
	}

	r.position = prev
	r.header = wire.FirstHeader{}
	r.buf = nil
	r.next = 0
	r.entry = wire.EntryHeader{}
	r.entryErr = nil
	r.err = nil

	rng, err := r.finder.FindRange(ctx, prev, r.config.MaxEntries)
	if err != nil {
		r.fail()
		return err
	}
	r.rng = rng
	r.position = rng.Start

	if rng.StartEqualsEnd() {
		r.header = wire.NotCalledHeader()
		r.record(r.header.Status.String())
		return r.finishWithoutEntries()
	}

	call, err := r.programCall(rng)
	if err != nil {
		r.fail()
		return err
	}

	start := time.Now()
	outputs, err := r.caller.Call(ctx, call)
	metrics.JournalRetrievalDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())

	if err != nil {
		if hostcall.IsNoEntries(err) {
			r.logger.Debug("no entries matched the selection", "range", rng.String())
			r.header = wire.NoDataHeader()
			r.record(r.header.Status.String())
			r.position = r.position.ConsumedAt(rng.End)
			return r.finishWithoutEntries()
		}

		r.record("error")
		r.fail()
		return classify("retrieve journal entries", rng.Start.Position(), err)
	}

	if len(outputs) == 0 {
		r.record("error")
		r.fail()
		return journal.NewError(journal.KindRetrievalFailure, "retrieve journal entries", hostcall.ErrOutputMismatch)
	}

	header, buf, err := wire.DecodeFirstHeader(outputs[0])
	if err != nil {
		r.record("error")
		r.fail()
		return &journal.Error{
			Kind:     journal.KindDecodeError,
			Op:       "decode retrieval header",
			Position: rng.Start.Position(),
			Err:      err,
		}
	}
	r.header = header
	r.buf = buf
	r.record(header.Status.String())

	if err := r.transition(StateHeaderParsed); err != nil {
		return err
	}

	if header.BufferTooSmall() {
		return r.bufferTooSmall()
	}

	r.next = header.Offset
	return r.transition(StateIterating)
}

// programCall builds the retrieval call for rng.
func (r *Retriever) programCall(rng journal.PositionRange) (hostcall.ProgramCall, error) {
	req := wire.RetrieveRequest{
		Journal:       r.config.Journal,
		FromBeginning: rng.FromBeginning,
		JournalCodes:  r.config.JournalCodes,
		EntryTypes:    r.config.EntryTypes,
		Files:         r.config.Files,
		BufferSize:    r.config.BufferSize,
	}
	if rng.FromBeginning {
		req.MaxEntries = int(min(r.config.MaxEntries, 1<<31-1))
	} else {
		req.StartReceiver = rng.Start.Receiver
		req.EndReceiver = rng.End.Receiver
		req.FromSequence = rng.Start.Offset
		req.ToSequence = rng.End.Offset
	}

	selection, err := req.EncodeSelection()
	if err != nil {
		return hostcall.ProgramCall{}, journal.NewError(journal.KindInvalidJournalFilter, "encode selection", err)
	}
	name, err := wire.QualifiedName(r.config.Journal)
	if err != nil {
		return hostcall.ProgramCall{}, journal.NewError(journal.KindInvalidJournalFilter, "encode journal name", err)
	}

	return hostcall.ProgramCall{
		Library:   wire.RetrieveLibrary,
		Program:   wire.RetrieveProgram,
		Procedure: wire.RetrieveProcedure,
		Params: []hostcall.Param{
			hostcall.Out("receiver", r.config.BufferSize),
			hostcall.In("length", wire.PutInt32(r.config.BufferSize)),
			hostcall.In("journal", name),
			hostcall.In("format", wire.FormatName()),
			hostcall.In("selection", selection),
		},
	}, nil
}

// bufferTooSmall handles a retrieval that could not return a single entry.
func (r *Retriever) bufferTooSmall() error {
	metrics.JournalBufferTooSmallTotal.WithLabelValues(r.name).Inc()

	jerr := &journal.Error{
		Kind:     journal.KindBufferTooSmall,
		Op:       "retrieve journal entries",
		Position: r.rng.Start.Position(),
		Err:      fmt.Errorf("buffer of %d bytes cannot hold the next entry", r.config.BufferSize),
	}

	if r.config.FailOnBufferTooSmall {
		r.logger.Error("retrieval buffer too small for a single entry",
			"buffer_size", r.config.BufferSize,
			"position", r.position.String(),
		)
		r.fail()
		return jerr
	}

	next := r.position.NextAt(r.header.NextPosition.Position())
	r.logger.Error("retrieval buffer too small for a single entry, skipping to the continuation; entries may have been lost",
		"buffer_size", r.config.BufferSize,
		"from", r.position.String(),
		"to", next.String(),
	)
	r.position = next
	jerr.Recovered = true

	if err := r.transition(StateContinuation); err != nil {
		return err
	}
	return jerr
}

func (r *Retriever) finishWithoutEntries() error {
	if err := r.transition(StateHeaderParsed); err != nil {
		return err
	}
	return r.transition(StateExhausted)
}

func (r *Retriever) fail() {
	r.state = StateIdle
}

func (r *Retriever) record(status string) {
	metrics.JournalRetrievalsTotal.WithLabelValues(r.name, status).Inc()
}

// Next advances to the next entry. It returns false when the retrieval is
// exhausted or the buffer cannot be walked any further; Err distinguishes
// the two. An entry with a malformed body is returned with EntryErr set.
func (r *Retriever) Next() bool {
	if r.state != StateIterating {
		return false
	}

	for r.next != 0 {
		h, err := wire.DecodeEntryHeader(r.buf, r.next)
		var malformed *wire.EntryError
		if err != nil && !errors.As(err, &malformed) {
			r.err = &journal.Error{
				Kind:     journal.KindDecodeError,
				Op:       "decode entry header",
				Position: r.position.Position(),
				Err:      err,
			}
			r.logger.Error("undecodable entry header", "error", err, "offset", r.next)
			r.fail()
			return false
		}
		r.next = h.NextEntryOffset

		receiver := h.Receiver
		if receiver.IsZero() {
			receiver = r.position.Receiver
		}
		if receiver.IsZero() {
			receiver = r.rng.End.Receiver
		}
		pos := journal.Position{Offset: h.SequenceNumber, Receiver: receiver}

		if r.position.Processed && r.position.Matches(pos) {
			metrics.JournalDuplicatesSkippedTotal.WithLabelValues(r.name).Inc()
			r.logger.Debug("skipping already processed entry", "position", pos.String())
			continue
		}

		r.position = r.position.Consumed(h.SequenceNumber, receiver, h.Time)

		if r.files != nil && h.JournalCode == "R" && !r.files[h.Object()] {
			continue
		}

		r.entry = h
		r.entryErr = nil
		if malformed != nil {
			r.entryErr = &journal.Error{
				Kind:     journal.KindDecodeError,
				Op:       "decode entry header",
				Position: pos,
				Err:      err,
			}
			r.logger.Error("malformed journal entry", "error", err, "position", pos.String())
		}
		metrics.JournalEntriesTotal.WithLabelValues(r.name, h.Kind()).Inc()
		metrics.JournalSequence.WithLabelValues(r.name).Set(float64(h.SequenceNumber))
		return true
	}

	r.entry = wire.EntryHeader{}
	r.entryErr = nil
	if r.header.Status == wire.StatusMoreData {
		r.position = r.position.NextAt(r.header.NextPosition.Position())
		_ = r.transition(StateContinuation)
		return false
	}

	r.position = r.position.ConsumedAt(r.rng.End)
	_ = r.transition(StateExhausted)
	return false
}

// Entry returns the header of the current entry.
func (r *Retriever) Entry() wire.EntryHeader {
	return r.entry
}

// EntryErr returns the decode error of the current entry. A malformed entry
// is still surfaced by Next so that it can be dumped and skipped.
func (r *Retriever) EntryErr() error {
	return r.entryErr
}

// EntrySpecificData returns the row payload of the current entry. Record
// entries without a payload are reported once per table, since they mean
// before images are not journaled.
func (r *Retriever) EntrySpecificData() ([]byte, error) {
	if r.entryErr != nil {
		return nil, r.entryErr
	}
	data, err := wire.DecodeEntrySpecificData(r.buf, r.entry)
	if err != nil {
		return nil, &journal.Error{
			Kind:     journal.KindDecodeError,
			Op:       "decode entry-specific data",
			Position: r.position.Position(),
			Err:      err,
		}
	}

	if data == nil && r.entry.JournalCode == "R" {
		table := r.entry.Object()
		if !r.warnedNoBeforeImage[table] {
			r.warnedNoBeforeImage[table] = true
			r.logger.Warn("journal entry has no entry-specific data, check that the table is journaled with IMAGES(*BOTH)",
				"table", table.String(),
				"entry_type", r.entry.EntryType,
			)
		}
	}
	return data, nil
}

// NullIndicators returns the null value indicators of the current entry.
func (r *Retriever) NullIndicators() (wire.NullIndicators, error) {
	if r.entryErr != nil {
		return nil, r.entryErr
	}
	nulls, err := wire.DecodeNullIndicators(r.buf, r.entry)
	if err != nil {
		return nil, &journal.Error{
			Kind:     journal.KindDecodeError,
			Op:       "decode null indicators",
			Position: r.position.Position(),
			Err:      err,
		}
	}
	return nulls, nil
}

// RawEntry returns the undecoded bytes of the current entry.
func (r *Retriever) RawEntry() []byte {
	if r.entry.End <= r.entry.Offset {
		return nil
	}
	return r.buf[r.entry.Offset:r.entry.End]
}

// Err returns the error that stopped the iteration, if any.
func (r *Retriever) Err() error {
	return r.err
}

// Position returns the position to persist once the current entry has been
// handled.
func (r *Retriever) Position() journal.ProcessedPosition {
	return r.position
}

// Range returns the range of the last retrieval.
func (r *Retriever) Range() journal.PositionRange {
	return r.rng
}

// Header returns the header of the last retrieval.
func (r *Retriever) Header() wire.FirstHeader {
	return r.header
}

// State returns the current state.
func (r *Retriever) State() State {
	return r.state
}

// FutureDataAvailable returns true if entries are known to exist beyond the
// last retrieval, because the buffer filled or the range was capped.
func (r *Retriever) FutureDataAvailable() bool {
	return r.header.Status == wire.StatusMoreData || r.rng.Capped()
}

// classify maps a host failure to a journal error kind.
func classify(op string, pos journal.Position, err error) error {
	jerr := &journal.Error{
		Kind:     journal.KindRetrievalFailure,
		Op:       op,
		Position: pos,
		Err:      err,
	}

	id, ok := hostcall.MessageID(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return jerr
	}

	jerr.MessageID = id
	switch id {
	case hostcall.MsgReceiverRangeInvalid, hostcall.MsgSequenceInvalid, hostcall.MsgReceiverNotFound:
		jerr.Kind = journal.KindInvalidPosition
	case hostcall.MsgObjectNotFound, hostcall.MsgLibraryNotFound, hostcall.MsgFileNotFound, hostcall.MsgNotJournaled:
		jerr.Kind = journal.KindInvalidJournalFilter
	}
	return jerr
}
