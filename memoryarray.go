package krati

// ExpandListener is notified when a MemoryArray grows. RecoverableArray is
// the only implementation — a one-slot observer field set at construction,
// not a generic event bus (spec §9).
type ExpandListener interface {
	OnExpand(newLength uint32) error
}

// MemoryArray is the in-memory segmented view: an ordered list of
// fixed-size sub-arrays of length 1<<subArrayBits. Sub-arrays are never
// relocated once allocated, so a caller holding a segment reference sees
// stable data across later growth (spec §4.4, §9).
type MemoryArray struct {
	bits     uint
	mask     uint32
	segments [][]int64
	listener ExpandListener
}

// NewMemoryArray creates an empty MemoryArray with the given sub-array
// size (2^bits elements per segment) and no segments allocated yet.
func NewMemoryArray(bits uint) *MemoryArray {
	return &MemoryArray{
		bits: bits,
		mask: uint32(1<<bits) - 1,
	}
}

// SetExpandListener wires the one observer notified on growth.
func (m *MemoryArray) SetExpandListener(l ExpandListener) {
	m.listener = l
}

// Length returns the current logical length: segment count << bits.
func (m *MemoryArray) Length() uint32 {
	return uint32(len(m.segments)) << m.bits
}

// Get returns the value at i. Indices at or past Length() are a
// programming error unless the façade grew silently underneath (spec
// §4.4) — callers in this package never call Get out of range.
func (m *MemoryArray) Get(i uint32) int64 {
	return m.segments[i>>m.bits][i&m.mask]
}

// Set writes the value at i in place.
func (m *MemoryArray) Set(i uint32, v int64) {
	m.segments[i>>m.bits][i&m.mask] = v
}

// ExpandCapacity grows the segment list so that segment index i>>bits is
// valid, allocating zero-filled sub-arrays and notifying the expand
// listener with the new length. A no-op if i is already covered.
func (m *MemoryArray) ExpandCapacity(i uint32) error {
	needSegments := int(i>>m.bits) + 1
	if needSegments <= len(m.segments) {
		return nil
	}
	segSize := 1 << m.bits
	for len(m.segments) < needSegments {
		m.segments = append(m.segments, make([]int64, segSize))
	}
	if m.listener != nil {
		if err := m.listener.OnExpand(m.Length()); err != nil {
			return err
		}
	}
	return nil
}

// Clear zeroes every cell in every segment. Segment count is unchanged.
func (m *MemoryArray) Clear() {
	for _, seg := range m.segments {
		for i := range seg {
			seg[i] = 0
		}
	}
}
