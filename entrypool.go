package krati

import "fmt"

// EntryPool is a bounded set of up to maxEntries Entry files plus the
// bookkeeping to hand them out and reclaim them. At most one Entry is
// OPEN at a time; OPEN+FULL entries never exceed maxEntries (spec §4.2).
type EntryPool struct {
	dir          string
	maxEntries   int
	maxEntrySize int
	slots        []*Entry
	current      *Entry
	fullQueue    []*Entry
}

// newEntryPool wires an already-built slot list (typically produced by
// recovery) into a pool with no current entry and an empty full queue.
func newEntryPool(dir string, maxEntries, maxEntrySize int, slots []*Entry) *EntryPool {
	return &EntryPool{
		dir:          dir,
		maxEntries:   maxEntries,
		maxEntrySize: maxEntrySize,
		slots:        slots,
	}
}

// Current returns the OPEN entry, or nil if none is open.
func (p *EntryPool) Current() *Entry { return p.current }

// AcquireFree finds a RECYCLED slot, marks it OPEN, sets it as current,
// and returns it. Returns nil if no slot is RECYCLED.
func (p *EntryPool) AcquireFree() *Entry {
	for _, e := range p.slots {
		if e.state == entryRecycled {
			e.state = entryOpen
			p.current = e
			return e
		}
	}
	return nil
}

// Seal transitions the current entry to FULL and queues it for
// application, clearing Current().
func (p *EntryPool) Seal() error {
	if p.current == nil {
		return nil
	}
	p.current.state = entryFull
	p.fullQueue = append(p.fullQueue, p.current)
	p.current = nil
	return nil
}

// OldestFull returns (without removing) the longest-waiting FULL entry,
// or nil if none is queued.
func (p *EntryPool) OldestFull() *Entry {
	if len(p.fullQueue) == 0 {
		return nil
	}
	return p.fullQueue[0]
}

// Retire applies e to af, fsyncs af, and recycles e back to the free set.
// e must be the current OldestFull() entry.
func (p *EntryPool) Retire(e *Entry, af *ArrayFile) error {
	if len(p.fullQueue) == 0 || p.fullQueue[0] != e {
		return fmt.Errorf("krati: retire called out of order on entry %d", e.slot)
	}
	if err := e.Apply(af); err != nil {
		return err
	}
	if err := e.Recycle(); err != nil {
		return err
	}
	p.fullQueue = p.fullQueue[1:]
	return nil
}

// FullCount returns the number of entries currently FULL and awaiting
// application.
func (p *EntryPool) FullCount() int { return len(p.fullQueue) }

// Slots returns every slot the pool manages, regardless of state.
func (p *EntryPool) Slots() []*Entry { return p.slots }

// Close closes every slot's file descriptor.
func (p *EntryPool) Close() error {
	var first error
	for _, e := range p.slots {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
