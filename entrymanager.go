package krati

import (
	"errors"
	"fmt"
	"os"
	"sort"
)

// EntryManager glues writes, Entries, water marks, and recovery together
// (spec §4.3). It owns the EntryPool and the ArrayFile both mutations and
// backpressure apply against.
type EntryManager struct {
	dir             string
	af              *ArrayFile
	pool            *EntryPool
	compactionCodec Codec
	lwm             int64
	hwm             int64
}

// openEntryManager runs the recovery protocol (spec §4.3) against dir's
// entry_<n>.dat files and af's header, then returns a ready EntryManager
// with one OPEN Entry and the rest RECYCLED.
func openEntryManager(dir string, af *ArrayFile, opts *Options) (*EntryManager, error) {
	fileLwm, fileHwm := af.WaterMarks()

	type loaded struct {
		entry     *Entry
		truncated bool
		fresh     bool
	}
	loadedSlots := make([]loaded, opts.MaxEntries)
	for n := 0; n < opts.MaxEntries; n++ {
		e, truncated, err := readEntrySlot(dir, n, opts.CompactionCodec)
		if errors.Is(err, os.ErrNotExist) {
			e, err = newEntrySlot(dir, n, opts.MaxEntrySize)
			if err != nil {
				return nil, err
			}
			loadedSlots[n] = loaded{entry: e, fresh: true}
			continue
		}
		if err != nil {
			return nil, err
		}
		e.maxSize = opts.MaxEntrySize
		loadedSlots[n] = loaded{entry: e, truncated: truncated}
	}

	var pending []*Entry
	for _, ls := range loadedSlots {
		if ls.fresh || ls.entry.Empty() {
			continue
		}
		if ls.entry.MaxScn() <= fileLwm {
			// Already durable — nothing left to replay from this slot.
			continue
		}
		pending = append(pending, ls.entry)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].MinScn() < pending[j].MinScn() })

	var maxReplayed int64
	replayedAny := false
	for _, e := range pending {
		for _, r := range e.records {
			if r.scn <= fileLwm {
				continue
			}
			if err := af.Put(r.index, r.value); err != nil {
				return nil, fmt.Errorf("krati: replay entry %d: %w", e.slot, err)
			}
			replayedAny = true
			if r.scn > maxReplayed {
				maxReplayed = r.scn
			}
		}
	}
	if err := af.Flush(); err != nil {
		return nil, err
	}

	newLwm := fileHwm
	if replayedAny {
		newLwm = maxReplayed
	}
	newHwm := newLwm
	if err := af.WriteWaterMarks(newLwm, newHwm); err != nil {
		return nil, err
	}

	slots := make([]*Entry, opts.MaxEntries)
	for n, ls := range loadedSlots {
		if !ls.fresh {
			if err := ls.entry.Recycle(); err != nil {
				return nil, err
			}
		}
		slots[n] = ls.entry
	}

	pool := newEntryPool(dir, opts.MaxEntries, opts.MaxEntrySize, slots)
	if pool.AcquireFree() == nil {
		return nil, fmt.Errorf("krati: recovered pool has no free entry slot")
	}

	return &EntryManager{
		dir:             dir,
		af:              af,
		pool:            pool,
		compactionCodec: opts.CompactionCodec,
		lwm:             newLwm,
		hwm:             newHwm,
	}, nil
}

// GetLWMark returns the in-memory durable-prefix SCN.
func (m *EntryManager) GetLWMark() int64 { return m.lwm }

// GetHWMark returns the in-memory accepted-prefix SCN.
func (m *EntryManager) GetHWMark() int64 { return m.hwm }

// AddRecord appends to the current Entry, rolling over (and, under
// backpressure, synchronously applying the oldest FULL entries) as
// needed, then advances the in-memory high water mark.
func (m *EntryManager) AddRecord(index uint32, value, scn int64) error {
	if m.pool.Current() == nil {
		if err := m.rollover(); err != nil {
			return err
		}
	}
	if err := m.pool.Current().Append(index, value, scn); err != nil {
		if err != errEntryFull {
			return err
		}
		if err := m.pool.Seal(); err != nil {
			return err
		}
		if err := m.rollover(); err != nil {
			return err
		}
		if err := m.pool.Current().Append(index, value, scn); err != nil {
			return err
		}
	}
	if scn > m.hwm {
		m.hwm = scn
	}
	return nil
}

// rollover ensures the pool has a current OPEN entry, applying the
// oldest FULL entries one at a time when every slot is OPEN or FULL
// (spec §4.2's backpressure policy).
func (m *EntryManager) rollover() error {
	for {
		if e := m.pool.AcquireFree(); e != nil {
			return nil
		}
		oldest := m.pool.OldestFull()
		if oldest == nil {
			return fmt.Errorf("krati: entry pool exhausted with no full entry to retire")
		}
		if err := m.pool.Retire(oldest, m.af); err != nil {
			return err
		}
	}
}

// Sync seals the current Entry if non-empty, applies and recycles every
// FULL Entry, then writes lwm:=hwm to the ArrayFile header and fsyncs.
func (m *EntryManager) Sync() error {
	if cur := m.pool.Current(); cur != nil && !cur.Empty() {
		if err := m.pool.Seal(); err != nil {
			return err
		}
	}
	for {
		oldest := m.pool.OldestFull()
		if oldest == nil {
			break
		}
		if err := m.pool.Retire(oldest, m.af); err != nil {
			return err
		}
	}
	m.lwm = m.hwm
	return m.af.WriteWaterMarks(m.lwm, m.hwm)
}

// Persist is the external-contract synonym for Sync.
func (m *EntryManager) Persist() error { return m.Sync() }

// SetWaterMarks overwrites both in-memory marks and the ArrayFile header,
// used by SaveHWMark's rewind path.
func (m *EntryManager) SetWaterMarks(lwm, hwm int64) error {
	m.lwm, m.hwm = lwm, hwm
	return m.af.WriteWaterMarks(lwm, hwm)
}

// Clear recycles every Entry and resets both water marks to zero.
func (m *EntryManager) Clear() error {
	if cur := m.pool.Current(); cur != nil {
		if err := cur.Recycle(); err != nil {
			return err
		}
		m.pool.current = nil
	}
	for _, e := range m.pool.fullQueue {
		if err := e.Recycle(); err != nil {
			return err
		}
	}
	m.pool.fullQueue = nil
	m.lwm, m.hwm = 0, 0
	return m.af.WriteWaterMarks(0, 0)
}

// Close fsyncs the current entry's bytes to disk (without sealing or
// applying it —
// spec §3's close leaves that to the next open's recovery) and closes
// every slot's file descriptor.
func (m *EntryManager) Close() error {
	if cur := m.pool.Current(); cur != nil {
		if err := cur.Flush(); err != nil {
			return err
		}
	}
	return m.pool.Close()
}

// Compact deduplicates the records held by every FULL Entry (last SCN per
// index wins, same rule as replay) and rewrites them as a single
// long-compaction Entry using the configured CompactionCodec. It never
// changes lwm, hwm, or any value observable through Get — see SPEC_FULL.md
// §4.6 / §8.1.
func (m *EntryManager) Compact() error {
	full := append([]*Entry{}, m.pool.fullQueue...)
	if len(full) == 0 {
		return nil
	}
	merged := make(map[uint32]record, len(full)*full[0].maxSize)
	order := make([]uint32, 0, len(full)*full[0].maxSize)
	for _, e := range full {
		for _, r := range e.records {
			if _, ok := merged[r.index]; !ok {
				order = append(order, r.index)
			}
			merged[r.index] = r
		}
	}
	recs := make([]record, 0, len(order))
	for _, idx := range order {
		recs = append(recs, merged[idx])
	}

	target := full[len(full)-1]
	for _, e := range full[:len(full)-1] {
		if err := e.Recycle(); err != nil {
			return err
		}
	}
	if err := target.writeCompacted(recs, m.compactionCodec); err != nil {
		return err
	}
	m.pool.fullQueue = []*Entry{target}
	return nil
}
