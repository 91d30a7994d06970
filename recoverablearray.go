package krati

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
)

// indexesFileName is the ArrayFile's fixed name within an array's
// directory (spec §6).
const indexesFileName = "indexes.dat"

// maxLength is the largest length the array ever grows to: 2^31-1,
// matching the index's 32-bit-non-negative range (spec §3).
const maxLength = uint32(1<<31 - 1)

// RecoverableArray is the public façade combining ArrayFile, EntryManager,
// and MemoryArray behind the array contract (spec §4.5). Its lifecycle is
// INIT → OPEN ⇄ CLOSED: New builds an INIT instance, Open/Close move it
// between OPEN and CLOSED, each idempotent in its own state.
type RecoverableArray struct {
	mu   sync.RWMutex
	mode mode
	opts *Options
	af   *ArrayFile
	em   *EntryManager
	mem  *MemoryArray
}

// New validates opts and returns a RecoverableArray in the INIT state.
// Call Open to create or recover the on-disk array.
func New(opts ...Option) (*RecoverableArray, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if !o.ElementWidth.valid() {
		return nil, fmt.Errorf("krati: invalid element width %d", o.ElementWidth)
	}
	if o.MaxEntries < 1 {
		return nil, fmt.Errorf("krati: maxEntries must be at least 1")
	}
	if o.MaxEntrySize < 1 {
		return nil, fmt.Errorf("krati: maxEntrySize must be at least 1")
	}
	return &RecoverableArray{mode: modeInit, opts: o}, nil
}

// Open is a convenience that builds a RecoverableArray with New and opens
// it in one call — the common entry point for callers that don't need the
// INIT state.
func Open(opts ...Option) (*RecoverableArray, error) {
	r, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Open creates the array directory's ArrayFile (when indexes.dat does not
// exist yet) or recovers it from the ArrayFile and Entry pool on disk,
// moving the array to OPEN.
// Idempotent when already OPEN.
func (r *RecoverableArray) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == modeOpen {
		return nil
	}
	o := r.opts
	if err := os.MkdirAll(o.Directory, 0755); err != nil {
		return fmt.Errorf("krati: create directory: %w", err)
	}

	path := filepath.Join(o.Directory, indexesFileName)
	af, err := openOrCreateArrayFile(path, o.ElementWidth)
	if err != nil {
		return err
	}

	em, err := openEntryManager(o.Directory, af, o)
	if err != nil {
		af.Close()
		return err
	}

	mem := NewMemoryArray(o.SubArrayBits)
	if af.Length() > 0 {
		if err := mem.ExpandCapacity(af.Length() - 1); err != nil {
			af.Close()
			return err
		}
		if err := af.Load(mem); err != nil {
			af.Close()
			return err
		}
	}
	mem.SetExpandListener(r)

	r.af, r.em, r.mem = af, em, mem
	r.mode = modeOpen
	log.Debugf("krati: opened array at %s, length=%d, lwm=%d, hwm=%d", o.Directory, af.Length(), em.GetLWMark(), em.GetHWMark())
	return nil
}

func openOrCreateArrayFile(path string, width ElementWidth) (*ArrayFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CreateArrayFile(path, 0, width)
	} else if err != nil {
		return nil, fmt.Errorf("krati: stat array file: %w", err)
	}
	return OpenArrayFile(path)
}

// OnExpand implements ExpandListener: it grows the ArrayFile to match
// MemoryArray's new length (spec §9's listener coupling).
func (r *RecoverableArray) OnExpand(newLength uint32) error {
	return r.af.SetArrayLength(newLength)
}

// IsOpen reports whether the array accepts reads and mutations.
func (r *RecoverableArray) IsOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode == modeOpen
}

// Length returns the array's current length — the ArrayFile's length is
// authoritative, since MemoryArray may hold over-allocated segments after
// a failed expansion (spec §4.5's revert-on-failure protocol).
func (r *RecoverableArray) Length() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.mode != modeOpen {
		return 0
	}
	return r.af.Length()
}

// Get returns the value at i. Fails with ErrIndexOutOfRange for i at or
// past Length(), ErrNotOpen if the array is not OPEN.
func (r *RecoverableArray) Get(i uint32) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.mode != modeOpen {
		return 0, ErrNotOpen
	}
	if i >= r.af.Length() {
		return 0, fmt.Errorf("krati: get index %d, length %d: %w", i, r.af.Length(), ErrIndexOutOfRange)
	}
	return r.mem.Get(i), nil
}

// Set writes cell i, appends a record with scn, and updates the high
// water mark. It auto-expands both MemoryArray and ArrayFile when i is at
// or past the current length.
func (r *RecoverableArray) Set(i uint32, value, scn int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(i, value, scn)
}

func (r *RecoverableArray) setLocked(i uint32, value, scn int64) error {
	if r.mode != modeOpen {
		return ErrNotOpen
	}
	if i >= maxLength {
		return fmt.Errorf("krati: set index %d exceeds maximum array length %d: %w", i, maxLength, ErrIndexOutOfRange)
	}
	if i >= r.af.Length() {
		if err := r.expandCapacityLocked(i); err != nil {
			return err
		}
	}
	if err := r.em.AddRecord(i, value, scn); err != nil {
		return err
	}
	r.mem.Set(i, value)
	return nil
}

// ExpandCapacity grows the array so index i is addressable, without
// writing to it.
func (r *RecoverableArray) ExpandCapacity(i uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != modeOpen {
		return ErrNotOpen
	}
	if i >= maxLength {
		return fmt.Errorf("krati: expand capacity index %d exceeds maximum array length %d: %w", i, maxLength, ErrIndexOutOfRange)
	}
	if i < r.af.Length() {
		return nil
	}
	return r.expandCapacityLocked(i)
}

func (r *RecoverableArray) expandCapacityLocked(i uint32) error {
	bits := r.opts.SubArrayBits
	newLen := ((i >> bits) + 1) << bits
	if newLen > maxLength || newLen < (i>>bits) {
		newLen = maxLength
	}
	// Grow MemoryArray first — pure memory, cannot fail short of OOM.
	// MemoryArray.ExpandCapacity only fires the expand listener the first
	// time a given segment boundary is crossed, so if an earlier call grew
	// MemoryArray's segments but then failed to grow the ArrayFile (the
	// listener returning an error), a later call targeting the same or a
	// smaller length would short-circuit on the segment check and never
	// give the ArrayFile another chance to catch up. Force it explicitly
	// instead of trusting the listener to have been the one that ran.
	if err := r.mem.ExpandCapacity(newLen - 1); err != nil {
		return err
	}
	if r.af.Length() < newLen {
		return r.af.SetArrayLength(newLen)
	}
	return nil
}

// GetHWMark returns the accepted-prefix SCN.
func (r *RecoverableArray) GetHWMark() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.em.GetHWMark()
}

// GetLWMark returns the durable-prefix SCN.
func (r *RecoverableArray) GetLWMark() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.em.GetLWMark()
}

// SaveHWMark advances the high water mark to end without a corresponding
// caller write, by logging a no-op record at index 0 (spec §4.5, §9's
// documented data/control conflation). If end is below the current low
// water mark, it rewinds: sync, then force both marks to end.
func (r *RecoverableArray) SaveHWMark(end int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != modeOpen {
		return ErrNotOpen
	}
	if end > r.em.GetHWMark() {
		var v int64
		if r.af.Length() > 0 {
			v = r.mem.Get(0)
		}
		return r.setLocked(0, v, end)
	}
	if end > 0 && end < r.em.GetLWMark() {
		if err := r.em.Sync(); err != nil {
			return err
		}
		return r.em.SetWaterMarks(end, end)
	}
	return nil
}

// Sync forces the EntryManager to apply all in-memory entries to the
// ArrayFile and fsync it.
func (r *RecoverableArray) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != modeOpen {
		return ErrNotOpen
	}
	return r.em.Sync()
}

// Persist is the external-contract synonym for Sync.
func (r *RecoverableArray) Persist() error {
	return r.Sync()
}

// Compact rewrites the Entry pool's pending FULL entries into a single
// deduplicated (optionally compressed) Entry. See SPEC_FULL.md §4.6.
func (r *RecoverableArray) Compact() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != modeOpen {
		return ErrNotOpen
	}
	return r.em.Compact()
}

// Clear zeroes MemoryArray and the ArrayFile body, recycles every Entry,
// and resets both water marks to zero. Length is unchanged. Zeroing the
// ArrayFile body (not just MemoryArray) matters because recovery's Load
// would otherwise resurrect pre-clear values from disk on the next Open.
func (r *RecoverableArray) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != modeOpen {
		return ErrNotOpen
	}
	r.mem.Clear()
	if err := r.em.Clear(); err != nil {
		return err
	}
	return r.af.ResetBody()
}

// Checksum hashes the array's live in-memory bytes with xxhash, for tests
// and diagnostics that want a cheap way to compare state across a
// simulated crash and recovery without walking every element.
func (r *RecoverableArray) Checksum() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := xxhash.New()
	length := r.af.Length()
	buf := make([]byte, 8)
	for i := uint32(0); i < length; i++ {
		v := uint64(r.mem.Get(i))
		for b := 0; b < 8; b++ {
			buf[b] = byte(v >> (8 * b))
		}
		h.Write(buf)
	}
	return h.Sum64()
}

// Close flushes the current Entry's bytes to disk (not necessarily
// applying it — that happens on the next Open's recovery) and releases
// file descriptors, moving the array to CLOSED. Idempotent when already
// CLOSED or never opened.
func (r *RecoverableArray) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != modeOpen {
		r.mode = modeClosed
		return nil
	}
	if err := r.em.Close(); err != nil {
		return err
	}
	if err := r.af.Close(); err != nil {
		return err
	}
	r.mode = modeClosed
	return nil
}
