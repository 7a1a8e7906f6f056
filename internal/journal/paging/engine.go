// Package paging computes the inclusive sequence number range of the next
// journal retrieval, walking the receiver chain when the range spans
// receivers.
package paging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/chain"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// ReceiverSource lists the receivers of one journal.
type ReceiverSource interface {
	// ListReceivers returns the journal's receiver directory.
	ListReceivers(ctx context.Context) ([]journal.ReceiverInfo, error)

	// ReceiverDetails returns the sequence bounds and successor of a receiver.
	ReceiverDetails(ctx context.Context, info journal.ReceiverInfo) (journal.DetailedReceiver, error)

	// AttachedReceiver returns the currently attached receiver, read fresh.
	AttachedReceiver(ctx context.Context) (journal.DetailedReceiver, error)
}

// Config holds pagination configuration.
type Config struct {
	// Name labels metrics and logs.
	Name string

	// AllowChainBreak resumes from the oldest reliable receiver when the
	// start receiver is cut off from the chain by a break. When false such
	// a break is reported as ErrChainUnresolved.
	AllowChainBreak bool
}

// Engine computes retrieval ranges. It owns the cache of detached receivers
// and is not safe for concurrent use.
type Engine struct {
	source ReceiverSource
	cache  *chain.Cache
	config Config
	logger *slog.Logger
}

// New creates a new pagination engine.
func New(src ReceiverSource, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source: src,
		cache:  chain.NewCache(),
		config: cfg,
		logger: logger.With("component", "journal-paging", "journal", cfg.Name),
	}
}

// Cache returns the engine's receiver cache.
func (e *Engine) Cache() *chain.Cache {
	return e.cache
}

// FindRange returns the range for the next retrieval of at most maxEntries
// entries after start. The returned range's Start may differ from start when
// start is the processed end of a detached receiver.
func (e *Engine) FindRange(ctx context.Context, start journal.ProcessedPosition, maxEntries uint64) (journal.PositionRange, error) {
	attached, err := e.source.AttachedReceiver(ctx)
	if err != nil {
		return journal.PositionRange{}, &journal.Error{
			Kind: journal.KindRetrievalFailure,
			Op:   "read attached receiver",
			Err:  err,
		}
	}
	journalEnd := attached.EndPosition()

	if !start.IsSet() {
		return journal.PositionRange{
			FromBeginning: true,
			Start:         start,
			End:           journalEnd,
			JournalEnd:    journalEnd,
		}, nil
	}

	if start.Receiver == attached.Receiver() {
		if start.Offset > attached.End {
			return journal.PositionRange{}, &journal.Error{
				Kind:     journal.KindInvalidPosition,
				Op:       "find range",
				Position: start.Position(),
				Err:      fmt.Errorf("offset is beyond the attached receiver end %s", attached.End),
			}
		}
		end := min(attached.End, start.Offset.Add(maxEntries))
		return journal.PositionRange{
			Start:      start,
			End:        journal.Position{Offset: end, Receiver: attached.Receiver()},
			JournalEnd: journalEnd,
		}, nil
	}

	c, err := e.resolve(ctx, attached, false)
	if err != nil {
		return journal.PositionRange{}, err
	}

	link := c.Find(start.Receiver)
	if link == nil {
		e.logger.Warn("start receiver not in chain, forcing a chain refresh",
			"receiver", start.Receiver.String(),
			"offset", start.Offset.String(),
		)
		metrics.JournalChainRefreshesTotal.WithLabelValues(e.config.Name, "forced").Inc()

		c, err = e.resolve(ctx, attached, true)
		if err != nil {
			return journal.PositionRange{}, err
		}
		link = c.Find(start.Receiver)
	}

	if link == nil {
		link, start, err = e.unresolved(c, start)
		if err != nil {
			return journal.PositionRange{}, err
		}
	}

	for _, b := range c.BreaksBefore(start.Receiver) {
		e.logger.Warn("receiver chain break before the current position",
			"break", b.String(),
			"receiver", start.Receiver.String(),
		)
	}

	link, start = crossProcessedEnd(link, start)

	return journal.PositionRange{
		Start:      start,
		End:        walk(link, start.Offset, maxEntries),
		JournalEnd: journalEnd,
	}, nil
}

// unresolved decides what to do when start's receiver is not in the chain.
func (e *Engine) unresolved(c chain.Chain, start journal.ProcessedPosition) (*chain.Link, journal.ProcessedPosition, error) {
	b, cut := c.Excluded(start.Receiver)
	if !cut {
		return nil, start, &journal.Error{
			Kind:     journal.KindInvalidPosition,
			Op:       "find range",
			Position: start.Position(),
			Err:      fmt.Errorf("receiver %s is no longer listed by the journal", start.Receiver),
		}
	}

	if !e.config.AllowChainBreak || c.Head == nil {
		return nil, start, &journal.Error{
			Kind:     journal.KindChainUnresolved,
			Op:       "find range",
			Position: start.Position(),
			Err:      fmt.Errorf("receiver chain is broken at %s", b),
		}
	}

	head := c.Head
	e.logger.Error("receiver chain broken after the current position, resuming at the oldest reliable receiver",
		"break", b.String(),
		"from", start.String(),
		"to", head.Receiver().String(),
	)
	return head, start.NextAt(head.Details.StartPosition()), nil
}

// resolve lists the receivers and builds the chain. Detached receivers are
// served from the cache unless force is set.
func (e *Engine) resolve(ctx context.Context, attached journal.DetailedReceiver, force bool) (chain.Chain, error) {
	listing, err := e.source.ListReceivers(ctx)
	if err != nil {
		return chain.Chain{}, &journal.Error{
			Kind: journal.KindRetrievalFailure,
			Op:   "list receivers",
			Err:  err,
		}
	}

	if force {
		e.cache.Clear()
	} else if evicted := e.cache.Reconcile(listing); evicted > 0 {
		e.logger.Debug("evicted receivers missing from listing", "count", evicted)
	}

	candidates := make([]journal.DetailedReceiver, 0, len(listing))
	for _, info := range listing {
		if info.Receiver == attached.Receiver() {
			continue
		}
		if d, ok := e.cache.Get(info.Receiver); ok {
			candidates = append(candidates, d)
			continue
		}

		d, err := e.source.ReceiverDetails(ctx, info)
		if err != nil {
			return chain.Chain{}, &journal.Error{
				Kind:     journal.KindRetrievalFailure,
				Op:       "read receiver details",
				Position: journal.Position{Receiver: info.Receiver},
				Err:      err,
			}
		}
		e.cache.Put(d)
		candidates = append(candidates, d)
	}

	c := chain.Resolve(candidates, attached)
	for _, r := range c.Resets {
		e.logger.Debug("sequence numbers restart across receivers",
			"from", r.From.String(),
			"to", r.To.String(),
		)
	}
	metrics.JournalCachedReceivers.WithLabelValues(e.config.Name).Set(float64(e.cache.Len()))
	return c, nil
}

// crossProcessedEnd moves a start that has consumed the last entry of its
// receiver to the first entry of the next non-empty successor.
func crossProcessedEnd(link *chain.Link, start journal.ProcessedPosition) (*chain.Link, journal.ProcessedPosition) {
	if !start.Processed || start.Offset != link.Details.End {
		return link, start
	}

	next := link.Next
	for next != nil && next.Details.IsEmpty() && next.Next != nil {
		next = next.Next
	}
	if next == nil {
		return link, start
	}
	return next, start.NextAt(next.Details.StartPosition())
}

// walk returns the end of a range that starts at offset within link's
// receiver and extends at most maxEntries steps along the chain. Within a
// receiver the end is offset+maxEntries, matching the single receiver case.
// Moving from one receiver's last entry to the successor's first entry costs
// no step, and each receiver is measured in its own numbering so that resets
// are handled without treating offsets as globally increasing.
func walk(link *chain.Link, offset journal.Offset, maxEntries uint64) journal.Position {
	remaining := maxEntries
	current := offset

	for l := link; ; l = l.Next {
		if target := current.Add(remaining); target <= l.Details.End {
			return journal.Position{Offset: target, Receiver: l.Receiver()}
		}
		if l.Next == nil {
			return l.Details.EndPosition()
		}

		remaining -= current.Distance(l.Details.End)
		current = l.Next.Details.Start
	}
}
