package ibmi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/cdc/deadletter"
	"github.com/janovincze/philotes-ibmi/internal/cdc/pipeline"
	"github.com/janovincze/philotes-ibmi/internal/cdc/source"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/catalog"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/hostcall"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/receivers"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/paging"
	"github.com/janovincze/philotes-ibmi/internal/journal/retrieve"
	"github.com/janovincze/philotes-ibmi/internal/journal/rowdecode"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
)

// Reader is a CDC source that polls an IBM i journal.
//
// Entries are retrieved in bounded ranges and turned into row change
// events. Position only moves past an entry once its event has been
// received, so a checkpoint of Position never skips an undelivered change.
// An update's before image holds Position back until the matching update
// entry has been delivered.
type Reader struct {
	config  Config
	caller  hostcall.Caller
	names   *catalog.NameCache
	dlq     deadletter.Manager
	retryer *pipeline.Retryer
	logger  *slog.Logger

	// Built by setup when the reader starts. files is the journal filter;
	// tables the host rejects are removed from it.
	files     []journal.ObjectName
	engine    *paging.Engine
	retriever *retrieve.Retriever
	decoder   *rowdecode.Decoder

	// cursor is where the next retrieval starts. It runs ahead of position
	// while before images are pending.
	cursor  journal.ProcessedPosition
	pending map[imageKey]pendingImage
	fetches uint64

	mu        sync.RWMutex
	started   bool
	position  journal.ProcessedPosition
	lastFetch time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

// New creates a new IBM i journal reader. The dead-letter manager may be
// nil, in which case undecodable entries are only logged.
func New(caller hostcall.Caller, cat catalog.Catalog, dlq deadletter.Manager, cfg Config, logger *slog.Logger) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ibmi-reader", "source", cfg.Name)

	names, ok := cat.(*catalog.NameCache)
	if !ok {
		names = catalog.NewNameCache(cat)
	}

	return &Reader{
		config:  cfg,
		caller:  caller,
		names:   names,
		dlq:     dlq,
		retryer: pipeline.NewRetryer(cfg.Retry, cfg.Name, logger),
		logger:  logger,
		pending: make(map[imageKey]pendingImage),
	}, nil
}

// Name returns the name of this source.
func (r *Reader) Name() string {
	return r.config.Name
}

// Seek sets the position to resume from.
func (r *Reader) Seek(pos journal.ProcessedPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	r.position = pos
	r.cursor = pos
	return nil
}

// Position returns the position to persist.
func (r *Reader) Position() journal.ProcessedPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position
}

// LastFetch returns when the journal was last retrieved successfully.
func (r *Reader) LastFetch() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastFetch
}

// Start begins polling the journal.
func (r *Reader) Start(ctx context.Context) (<-chan cdc.Event, <-chan error) {
	events := make(chan cdc.Event)
	errs := make(chan error, 1)

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		close(events)
		errs <- ErrAlreadyStarted
		close(errs)
		return events, errs
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer close(r.done)

		err := r.run(ctx, events)
		close(events)
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
		close(errs)
	}()

	return events, errs
}

// Stop stops polling and waits for the reader to exit.
func (r *Reader) Stop(ctx context.Context) error {
	r.mu.RLock()
	started, cancel, done := r.started, r.cancel, r.done
	r.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}

	r.stopOnce.Do(cancel)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reader) run(ctx context.Context, events chan<- cdc.Event) error {
	r.logger.Info("starting IBM i journal reader",
		"journal", r.config.Journal.String(),
		"position", r.cursor.String(),
		"tables", len(r.config.Tables),
	)

	if err := r.setup(ctx); err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(r.config.PollInterval), 1)
	more := false
	for {
		if !more {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		var err error
		more, err = r.fetch(ctx, events)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("reader stopped", "reason", ctx.Err())
				return nil
			}
			r.logger.Error("journal reader failed", "error", err, "position", r.cursor.String())
			return err
		}
	}
}

// setup resolves the table filter and builds the retrieval components.
// Tables missing from the catalog are left out of the filter.
func (r *Reader) setup(ctx context.Context) error {
	r.files = nil
	for _, t := range r.config.Tables {
		schema, table, _ := splitTable(t)

		var system string
		err := r.retryer.Execute(ctx, func(ctx context.Context) error {
			var err error
			system, err = r.names.SystemName(ctx, schema, table)
			if errors.Is(err, catalog.ErrTableNotFound) {
				return pipeline.NewNonRetryableError(err)
			}
			return err
		})
		if errors.Is(err, catalog.ErrTableNotFound) {
			r.logger.Error("table not found, leaving it out of the journal filter", "table", t, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve table %s: %w", t, err)
		}
		r.files = append(r.files, journal.NewObjectName(system, schema))
	}
	if len(r.config.Tables) > 0 && len(r.files) == 0 {
		return fmt.Errorf("%w: none of %v could be resolved", ErrNoTables, r.config.Tables)
	}

	rc := r.config.Receivers
	rc.Journal = r.config.Journal
	r.engine = paging.New(receivers.New(r.caller, rc, r.logger), paging.Config{
		Name:            r.config.Name,
		AllowChainBreak: r.config.AllowChainBreak,
	}, r.logger)
	r.retriever = r.newRetriever(r.files)
	r.decoder = rowdecode.New(r.names, rowdecode.Config{
		Name:         r.config.Name,
		Database:     r.config.Database,
		DefaultCCSID: r.config.DefaultCCSID,
		Location:     r.config.Location,
	}, r.logger)
	return nil
}

func (r *Reader) newRetriever(files []journal.ObjectName) *retrieve.Retriever {
	return retrieve.New(r.caller, r.engine, r.config.retrieveConfig(files), r.logger)
}

// dropRejectedFiles removes the files the host refused to filter on and
// rebuilds the retriever. Files named in the host message are dropped
// directly; otherwise each file is tried on its own. cause is returned when
// no file can be blamed.
func (r *Reader) dropRejectedFiles(ctx context.Context, cause error) error {
	rejected := namedIn(cause, r.files)
	if len(rejected) == 0 {
		var err error
		if rejected, err = r.isolate(ctx); err != nil {
			return err
		}
	}
	if len(rejected) == 0 {
		return cause
	}

	kept := make([]journal.ObjectName, 0, len(r.files))
	for _, f := range r.files {
		if slices.Contains(rejected, f) {
			r.logger.Error("host rejected table in the journal filter, dropping it; its changes are no longer captured",
				"table", f.String(),
				"error", cause,
			)
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return fmt.Errorf("%w: %v", ErrNoTables, cause)
	}

	r.files = kept
	r.retriever = r.newRetriever(kept)
	return nil
}

// isolate retrieves from the cursor once per file and returns the files the
// host rejects.
func (r *Reader) isolate(ctx context.Context) ([]journal.ObjectName, error) {
	var rejected []journal.ObjectName
	for _, f := range r.files {
		err := r.newRetriever([]journal.ObjectName{f}).RetrieveJournal(ctx, r.cursor)
		switch {
		case errors.Is(err, journal.ErrInvalidJournalFilter):
			rejected = append(rejected, f)
		case err != nil && !errors.Is(err, journal.ErrBufferTooSmall):
			return nil, err
		}
	}
	return rejected, nil
}

// namedIn returns the files whose name and library both appear in the host
// message carried by err.
func namedIn(err error, files []journal.ObjectName) []journal.ObjectName {
	var hostErr *hostcall.HostError
	if !errors.As(err, &hostErr) {
		return nil
	}

	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToUpper(hostErr.Text), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c) && !strings.ContainsRune("_#@$", c)
	}) {
		words[w] = true
	}

	var named []journal.ObjectName
	for _, f := range files {
		if words[f.Name] && words[f.Library] {
			named = append(named, f)
		}
	}
	return named
}

// fetch runs one retrieval and handles its entries. It returns true when
// more entries are known to be waiting.
func (r *Reader) fetch(ctx context.Context, events chan<- cdc.Event) (bool, error) {
	err := r.retryer.Execute(ctx, func(ctx context.Context) error {
		return r.retriever.RetrieveJournal(ctx, r.cursor)
	})

	var jerr *journal.Error
	switch {
	case err == nil:
	case errors.As(err, &jerr) && jerr.Recovered:
		r.moveCursor(r.retriever.Position())
		return true, nil
	case journal.IsReceiverLoss(err) && r.config.ResetOnReceiverLoss:
		r.logger.Error("journal position lost, restarting from the beginning of the journal; changes may have been missed",
			"position", r.cursor.String(),
			"error", err,
		)
		r.engine.Cache().Clear()
		clear(r.pending)
		r.moveCursor(journal.BeginningPosition())
		return true, nil
	case errors.Is(err, journal.ErrInvalidJournalFilter) && len(r.files) > 0:
		if err := r.dropRejectedFiles(ctx, err); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, err
	}

	r.fetches++
	r.mu.Lock()
	r.lastFetch = time.Now()
	r.mu.Unlock()

	for r.retriever.Next() {
		if err := r.handle(ctx, events); err != nil {
			return false, err
		}
	}
	if err := r.retriever.Err(); err != nil {
		return false, err
	}

	more := r.retriever.FutureDataAvailable()
	if !more {
		r.dropOrphans()
	}
	r.moveCursor(r.retriever.Position())
	return more, nil
}

// moveCursor sets the next retrieval start and, unless before images are
// pending, the persisted position.
func (r *Reader) moveCursor(pos journal.ProcessedPosition) {
	r.cursor = pos
	r.advance(pos)
}

// advance sets the persisted position unless before images are pending.
func (r *Reader) advance(pos journal.ProcessedPosition) {
	if len(r.pending) > 0 {
		return
	}
	r.mu.Lock()
	r.position = pos
	r.mu.Unlock()
}

// dropOrphans discards before images from earlier retrievals whose update
// entry never arrived.
func (r *Reader) dropOrphans() {
	for k, p := range r.pending {
		if p.fetch < r.fetches {
			r.logger.Warn("dropping before image without a matching update entry",
				"table", k.object.String(),
				"rrn", k.rrn,
			)
			delete(r.pending, k)
		}
	}
}

// handle turns the current entry into an event, if it needs one.
func (r *Reader) handle(ctx context.Context, events chan<- cdc.Event) error {
	h := r.retriever.Entry()
	pos := r.retriever.Position()

	if err := r.retriever.EntryErr(); err != nil {
		return r.reject(ctx, h, pos, err)
	}

	switch classify(h) {
	case actionInsert:
		row, err := r.decodeRow(ctx, h)
		if err != nil {
			return r.reject(ctx, h, pos, err)
		}
		return r.send(ctx, events, r.rowEvent(h, pos, cdc.OperationInsert, row))

	case actionBeforeImage:
		row, err := r.decodeRow(ctx, h)
		if err != nil {
			return r.reject(ctx, h, pos, err)
		}
		r.pending[keyOf(h)] = pendingImage{row: row, fetch: r.fetches}
		return nil

	case actionUpdate:
		before, paired := r.pending[keyOf(h)]
		delete(r.pending, keyOf(h))

		row, err := r.decodeRow(ctx, h)
		if err != nil {
			return r.reject(ctx, h, pos, err)
		}
		ev := r.rowEvent(h, pos, cdc.OperationUpdate, row)
		if paired {
			ev.Before = before.row.Map()
		}
		return r.send(ctx, events, ev)

	case actionDelete:
		row, err := r.decodeRow(ctx, h)
		if err != nil {
			return r.reject(ctx, h, pos, err)
		}
		return r.send(ctx, events, r.rowEvent(h, pos, cdc.OperationDelete, row))

	case actionTruncate:
		schema, table, err := r.decoder.ResolveTable(ctx, h)
		if err != nil {
			return r.reject(ctx, h, pos, err)
		}
		return r.send(ctx, events, r.newEvent(h, pos, cdc.OperationTruncate, schema, table))

	case actionInvalidate:
		r.invalidate(ctx, h)
	}

	r.advance(pos)
	return nil
}

func (r *Reader) decodeRow(ctx context.Context, h wire.EntryHeader) (*rowdecode.Row, error) {
	data, err := r.retriever.EntrySpecificData()
	if err != nil {
		return nil, err
	}
	nulls, err := r.retriever.NullIndicators()
	if err != nil {
		return nil, err
	}
	return r.decoder.Decode(ctx, h, data, nulls)
}

func (r *Reader) send(ctx context.Context, events chan<- cdc.Event, ev cdc.Event) error {
	select {
	case events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Debug("event delivered",
		"table", ev.FullyQualifiedTable(),
		"operation", ev.Operation,
		"position", ev.Position.String(),
	)
	r.advance(ev.Position)
	return nil
}

// invalidate drops the cached layout and names of a table whose
// definition changed.
func (r *Reader) invalidate(ctx context.Context, h wire.EntryHeader) {
	if schema, table, err := r.decoder.ResolveTable(ctx, h); err == nil {
		r.decoder.Invalidate(schema, table)
	} else {
		r.decoder.InvalidateAll()
	}
	r.names.Forget(h.Library, h.File)

	r.logger.Info("table definition changed, layout will be reloaded",
		"table", h.Object().String(),
		"entry_type", h.Kind(),
	)
}

// reject dead-letters an entry that cannot be decoded and advances past
// it. Other errors stop the reader so that the entry is read again.
func (r *Reader) reject(ctx context.Context, h wire.EntryHeader, pos journal.ProcessedPosition, cause error) error {
	errType, ok := deadLetterType(cause)
	if !ok {
		return cause
	}

	r.logger.Error("undecodable journal entry",
		"error", cause,
		"entry_type", h.Kind(),
		"table", h.Object().String(),
		"position", pos.String(),
		"rrn", h.CountRRN,
	)

	if r.dlq != nil {
		entry, err := deadletter.FromEntry(r.config.Name, h, pos.Position(), r.retriever.RawEntry(), cause, errType, r.config.DeadLetterRetention)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeadLetter, err)
		}
		if err := r.dlq.Write(ctx, entry); err != nil {
			return fmt.Errorf("%w: %v", ErrDeadLetter, err)
		}
	}

	r.advance(pos)
	return nil
}

// deadLetterType classifies errors that are dead-lettered instead of
// stopping the reader.
func deadLetterType(err error) (deadletter.ErrorType, bool) {
	switch {
	case errors.Is(err, rowdecode.ErrLayout), errors.Is(err, catalog.ErrTableNotFound):
		return deadletter.ErrorTypeSchema, true
	case errors.Is(err, journal.ErrDecode):
		return deadletter.ErrorTypeDecode, true
	default:
		return "", false
	}
}

// Ensure Reader implements source.Source.
var _ source.Source = (*Reader)(nil)
