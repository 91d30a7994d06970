package krati

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// entryState tracks an Entry's position in the OPEN → FULL → APPLIED →
// RECYCLED cycle (spec §4.2).
type entryState int

const (
	entryRecycled entryState = iota
	entryOpen
	entryFull
	entryApplied
)

// Entry is one bounded, append-only log segment: a header plus up to
// maxSize (index, value, scn) records recorded in call order, backed by
// its own file.
type Entry struct {
	slot    int
	path    string
	file    *os.File
	header  entryHeader
	maxSize int
	records []record
	state   entryState
}

// newEntrySlot creates (or truncates) the file for pool slot n in dir and
// returns it as an empty, RECYCLED Entry ready to be acquired.
func newEntrySlot(dir string, slot, maxSize int) (*Entry, error) {
	path := entrySlotPath(dir, slot)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("krati: create entry slot %d: %w", slot, err)
	}
	e := &Entry{slot: slot, path: path, file: f, maxSize: maxSize, state: entryRecycled}
	e.header = newEntryHeader()
	if err := e.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

func entrySlotPath(dir string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("entry_%d.dat", slot))
}

// readEntrySlot opens an existing slot file and decodes its header plus as
// many records as the file body actually holds. A truncated body (fewer
// bytes than header.recordCount implies) is not an error here — it is
// reported via the returned truncated flag so the caller can log it as a
// CorruptEntry and keep only the records read.
func readEntrySlot(dir string, slot int, codec Codec) (*Entry, bool, error) {
	path := entrySlotPath(dir, slot)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("krati: open entry slot %d: %w", slot, err)
	}
	buf := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("krati: read entry header %d: %w", slot, err)
	}
	h, err := decodeEntryHeader(buf)
	if err != nil {
		f.Close()
		return nil, false, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("krati: stat entry slot %d: %w", slot, err)
	}
	payload := make([]byte, info.Size()-int64(entryHeaderSize))
	if _, err := f.ReadAt(payload, int64(entryHeaderSize)); err != nil && err != io.EOF {
		f.Close()
		return nil, false, fmt.Errorf("krati: read entry body %d: %w", slot, err)
	}

	e := &Entry{slot: slot, path: path, file: f, header: h, state: entryFull}

	var raw []byte
	truncated := false
	switch h.kind {
	case entryKindLongCompaction:
		want := int(h.recordCount) * recordSize
		raw, err = decompress(codec, payload, want)
		if err != nil {
			log.WithError(err).Warnf("krati: entry %d: corrupt compaction payload, discarding", slot)
			return e, true, nil
		}
	default:
		raw = payload
	}

	avail := len(raw) / recordSize
	n := int(h.recordCount)
	if avail < n {
		truncated = true
		n = avail
		log.WithError(fmt.Errorf("entry %d: want %d records, body holds %d: %w", slot, h.recordCount, avail, ErrCorruptEntry)).Warn("krati: truncated entry body")
	}
	e.records = make([]record, n)
	for i := 0; i < n; i++ {
		e.records[i] = decodeRecord(raw[i*recordSize : (i+1)*recordSize])
	}
	return e, truncated, nil
}

// Append adds one record in call order. It fails with errEntryFull once
// maxSize records are held; it does not reject a non-monotonic scn — that
// is a documented caller hazard (spec §3, §8 scenario 3), not a runtime
// error.
func (e *Entry) Append(index uint32, value, scn int64) error {
	if len(e.records) >= e.maxSize {
		return errEntryFull
	}
	if len(e.records) == 0 {
		e.header.minScn = scn
	}
	e.header.maxScn = scn
	r := record{index: index, value: value, scn: scn}
	off := int64(entryHeaderSize) + int64(len(e.records))*int64(recordSize)
	if _, err := e.file.WriteAt(encodeRecord(r), off); err != nil {
		return fmt.Errorf("krati: append entry record: %w", err)
	}
	e.records = append(e.records, r)
	e.header.recordCount = uint32(len(e.records))
	return e.writeHeader()
}

// Size returns the number of records currently held.
func (e *Entry) Size() int { return len(e.records) }

// Empty reports whether the Entry holds no records.
func (e *Entry) Empty() bool { return len(e.records) == 0 }

// MaxScn returns the header's max SCN field (spec §4.2: the SCN of the
// most recently appended record, not necessarily the numeric maximum
// under an out-of-order caller).
func (e *Entry) MaxScn() int64 { return e.header.maxScn }

// MinScn returns the SCN of the first record appended this cycle, used to
// order Entries during recovery replay.
func (e *Entry) MinScn() int64 { return e.header.minScn }

func (e *Entry) writeHeader() error {
	if _, err := e.file.WriteAt(e.header.encode(), 0); err != nil {
		return fmt.Errorf("krati: write entry header: %w", err)
	}
	return nil
}

// Flush fsyncs the entry file.
func (e *Entry) Flush() error {
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("krati: fsync entry %d: %w", e.slot, err)
	}
	return nil
}

// Apply writes every held record to af in order, then fsyncs af.
func (e *Entry) Apply(af *ArrayFile) error {
	if err := af.PutBulk(e.records); err != nil {
		return err
	}
	if err := af.Flush(); err != nil {
		return err
	}
	e.state = entryApplied
	return nil
}

// Recycle truncates the slot back to a bare header and clears its
// in-memory records, making it available to AcquireFree again.
func (e *Entry) Recycle() error {
	e.header = newEntryHeader()
	e.records = nil
	if err := e.file.Truncate(int64(entryHeaderSize)); err != nil {
		return fmt.Errorf("krati: truncate entry %d: %w", e.slot, err)
	}
	if err := e.writeHeader(); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}
	e.state = entryRecycled
	return nil
}

// writeCompacted overwrites this slot's header and body with a
// long-compaction Entry holding records, compressed with codec. The slot's
// state is left unchanged; Compact calls it on a FULL entry that stays
// queued for apply.
func (e *Entry) writeCompacted(records []record, codec Codec) error {
	raw := make([]byte, 0, len(records)*recordSize)
	for _, r := range records {
		raw = append(raw, encodeRecord(r)...)
	}
	payload, err := compress(codec, raw)
	if err != nil {
		return err
	}
	e.header = entryHeader{
		magic:       entryMagic,
		version:     entryVersion,
		kind:        entryKindLongCompaction,
		recordCount: uint32(len(records)),
	}
	if len(records) > 0 {
		e.header.minScn = minScn(records)
		e.header.maxScn = maxScnOf(records)
	}
	e.records = records
	if err := e.writeHeader(); err != nil {
		return err
	}
	if _, err := e.file.WriteAt(payload, int64(entryHeaderSize)); err != nil {
		return fmt.Errorf("krati: write compacted entry %d: %w", e.slot, err)
	}
	if err := e.file.Truncate(int64(entryHeaderSize) + int64(len(payload))); err != nil {
		return fmt.Errorf("krati: truncate compacted entry %d: %w", e.slot, err)
	}
	return e.Flush()
}

func minScn(rs []record) int64 {
	m := rs[0].scn
	for _, r := range rs[1:] {
		if r.scn < m {
			m = r.scn
		}
	}
	return m
}

func maxScnOf(rs []record) int64 {
	m := rs[0].scn
	for _, r := range rs[1:] {
		if r.scn > m {
			m = r.scn
		}
	}
	return m
}

// Close releases the slot's file descriptor.
func (e *Entry) Close() error {
	return e.file.Close()
}
