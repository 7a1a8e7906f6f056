// Package chain resolves the ordered chain of journal receivers from a
// receiver listing, detecting breaks and sequence number resets.
package chain

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// BreakReason explains why a receiver cannot be linked to its successor.
type BreakReason int

const (
	// BreakPartial means the host reports the receiver as partial.
	BreakPartial BreakReason = iota
	// BreakDanglingNext means the receiver points at a successor that is
	// not part of the listing.
	BreakDanglingNext
	// BreakNoSuccessor means a detached receiver has no successor pointer.
	BreakNoSuccessor
)

// String returns the string representation of the reason.
func (r BreakReason) String() string {
	switch r {
	case BreakPartial:
		return "partial"
	case BreakDanglingNext:
		return "dangling-next"
	case BreakNoSuccessor:
		return "no-successor"
	default:
		return "unknown"
	}
}

// Break is a receiver at which the chain cannot be followed.
type Break struct {
	Receiver journal.Receiver
	Reason   BreakReason
	Next     journal.Receiver
}

func (b Break) String() string {
	if b.Next.IsZero() {
		return fmt.Sprintf("%s (%s)", b.Receiver, b.Reason)
	}
	return fmt.Sprintf("%s -> %s (%s)", b.Receiver, b.Next, b.Reason)
}

// Reset records a link whose successor restarted sequence numbering.
type Reset struct {
	From journal.Receiver
	To   journal.Receiver
}

// Link is one receiver of a resolved chain.
type Link struct {
	Details journal.DetailedReceiver
	Next    *Link
}

// Receiver returns the receiver identity of the link.
func (l *Link) Receiver() journal.Receiver {
	return l.Details.Receiver()
}

// Chain is the reliable, ordered part of a journal's receivers: the longest
// run of successor links that ends at the attached receiver. Receivers before
// a break are listed in Ordered but are not part of the chain.
type Chain struct {
	// Head is the oldest reliable receiver.
	Head *Link

	// Tail is the attached receiver.
	Tail *Link

	// Ordered holds every candidate receiver in attach order, including
	// the ones discarded because of a break.
	Ordered []journal.DetailedReceiver

	// Breaks lists every receiver whose successor link could not be
	// followed, in attach order.
	Breaks []Break

	// Resets lists the links across which sequence numbering restarted.
	Resets []Reset

	links map[journal.Receiver]*Link
}

// Resolve builds the chain from an unordered receiver listing and the freshly
// read attached receiver. The attached receiver replaces any stale copy of
// itself found in candidates.
func Resolve(candidates []journal.DetailedReceiver, attached journal.DetailedReceiver) Chain {
	byReceiver := make(map[journal.Receiver]journal.DetailedReceiver, len(candidates)+1)
	for _, d := range candidates {
		byReceiver[d.Receiver()] = d
	}
	byReceiver[attached.Receiver()] = attached

	ordered := make([]journal.DetailedReceiver, 0, len(byReceiver))
	for _, d := range byReceiver {
		ordered = append(ordered, d)
	}
	slices.SortFunc(ordered, func(a, b journal.DetailedReceiver) int {
		if c := a.Info.AttachTime.Compare(b.Info.AttachTime); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Info.Receiver.Library, b.Info.Receiver.Library); c != 0 {
			return c
		}
		return cmp.Compare(a.Info.Receiver.Name, b.Info.Receiver.Name)
	})

	c := Chain{
		Ordered: ordered,
		links:   make(map[journal.Receiver]*Link),
	}

	predecessor := make(map[journal.Receiver]journal.DetailedReceiver)
	for _, d := range ordered {
		if d.Receiver() == attached.Receiver() {
			continue
		}
		if d.Info.Status == journal.StatusEmpty && !d.HasNext() {
			continue
		}

		switch {
		case d.Info.Status == journal.StatusPartial:
			c.Breaks = append(c.Breaks, Break{Receiver: d.Receiver(), Reason: BreakPartial, Next: d.Next})
		case !d.HasNext():
			c.Breaks = append(c.Breaks, Break{Receiver: d.Receiver(), Reason: BreakNoSuccessor})
		default:
			if _, ok := byReceiver[d.Next]; !ok {
				c.Breaks = append(c.Breaks, Break{Receiver: d.Receiver(), Reason: BreakDanglingNext, Next: d.Next})
				continue
			}
			// Later attach times win if two receivers claim the same successor.
			predecessor[d.Next] = d
		}
	}

	// Walk back from the attached receiver so that everything before the
	// most recent break is left out.
	run := []journal.DetailedReceiver{attached}
	seen := map[journal.Receiver]bool{attached.Receiver(): true}
	for cur := attached.Receiver(); ; {
		prev, ok := predecessor[cur]
		if !ok || seen[prev.Receiver()] {
			break
		}
		seen[prev.Receiver()] = true
		run = append(run, prev)
		cur = prev.Receiver()
	}
	slices.Reverse(run)

	var last *Link
	for _, d := range run {
		link := &Link{Details: d}
		c.links[d.Receiver()] = link
		if last == nil {
			c.Head = link
		} else {
			last.Next = link
			if !d.IsEmpty() && d.Start < last.Details.End {
				c.Resets = append(c.Resets, Reset{From: last.Receiver(), To: d.Receiver()})
			}
		}
		last = link
	}
	c.Tail = last

	return c
}

// Find returns the link for r, or nil if r is not part of the chain.
func (c Chain) Find(r journal.Receiver) *Link {
	return c.links[r]
}

// Len returns the number of receivers in the chain.
func (c Chain) Len() int {
	return len(c.links)
}

// Receivers returns the chain's receivers from head to tail.
func (c Chain) Receivers() []journal.DetailedReceiver {
	var out []journal.DetailedReceiver
	for l := c.Head; l != nil; l = l.Next {
		out = append(out, l.Details)
	}
	return out
}

// Listed returns true if r appears in the listing, whether or not it is part
// of the chain.
func (c Chain) Listed(r journal.Receiver) bool {
	return slices.ContainsFunc(c.Ordered, func(d journal.DetailedReceiver) bool {
		return d.Receiver() == r
	})
}

// Excluded returns the break that cuts r off from the chain. It returns false
// if r is part of the chain or is not listed at all.
func (c Chain) Excluded(r journal.Receiver) (Break, bool) {
	if c.Find(r) != nil {
		return Break{}, false
	}

	idx := slices.IndexFunc(c.Ordered, func(d journal.DetailedReceiver) bool {
		return d.Receiver() == r
	})
	if idx < 0 {
		return Break{}, false
	}

	for _, d := range c.Ordered[idx:] {
		for _, b := range c.Breaks {
			if b.Receiver == d.Receiver() {
				return b, true
			}
		}
	}
	return Break{Receiver: r, Reason: BreakNoSuccessor}, true
}

// BreaksBefore returns the breaks that precede r in attach order.
func (c Chain) BreaksBefore(r journal.Receiver) []Break {
	idx := slices.IndexFunc(c.Ordered, func(d journal.DetailedReceiver) bool {
		return d.Receiver() == r
	})
	if idx < 0 {
		return nil
	}

	before := make(map[journal.Receiver]bool, idx)
	for _, d := range c.Ordered[:idx] {
		before[d.Receiver()] = true
	}

	var out []Break
	for _, b := range c.Breaks {
		if before[b.Receiver] {
			out = append(out, b)
		}
	}
	return out
}
