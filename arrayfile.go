package krati

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ArrayFile is the on-disk backing store: a 40-byte header (spec §6)
// followed by a dense vector of fixed-width elements. It has no notion of
// segments or entries — those live in EntryManager and MemoryArray. It
// only knows how to persist a flat vector and two water marks.
type ArrayFile struct {
	path   string
	file   *os.File
	width  ElementWidth
	length uint32
	lwm    int64
	hwm    int64
}

// CreateArrayFile allocates a new ArrayFile at path with length elements of
// the given width, header water marks at zero, and a zero-filled body.
func CreateArrayFile(path string, length uint32, width ElementWidth) (*ArrayFile, error) {
	if !width.valid() {
		return nil, fmt.Errorf("krati: invalid element width %d", width)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("krati: create array file: %w", err)
	}
	af := &ArrayFile{path: path, file: f, width: width, length: length}
	size := int64(arrayFileHeaderSize) + int64(length)*int64(width)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("krati: truncate array file: %w", err)
	}
	if err := af.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := af.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return af, nil
}

// OpenArrayFile opens an existing ArrayFile, validating its header.
// Returns ErrCorruptHeader on signature/version mismatch.
func OpenArrayFile(path string) (*ArrayFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("krati: open array file: %w", err)
	}
	buf := make([]byte, arrayFileHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("krati: read array file header: %w", err)
	}
	h, err := decodeArrayFileHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ArrayFile{
		path:   path,
		file:   f,
		width:  h.elementWidth,
		length: h.length,
		lwm:    h.lwmScn,
		hwm:    h.hwmScn,
	}, nil
}

// Length returns the number of elements currently backed on disk.
func (af *ArrayFile) Length() uint32 { return af.length }

// Width returns the configured element width.
func (af *ArrayFile) Width() ElementWidth { return af.width }

// WaterMarks returns the header's persisted lwm/hwm SCNs.
func (af *ArrayFile) WaterMarks() (lwm, hwm int64) { return af.lwm, af.hwm }

func (af *ArrayFile) offsetOf(index uint32) int64 {
	return int64(arrayFileHeaderSize) + int64(index)*int64(af.width)
}

// Load memory-maps the file body read-only and decodes every element into
// dst, which must already have Length() elements available (i.e. the
// caller has expanded it to match beforehand). Mirrors the teacher's
// mmap-based bulk read of its data files.
func (af *ArrayFile) Load(dst *MemoryArray) error {
	if uint32(dst.Length()) < af.length {
		return fmt.Errorf("krati: load destination has %d elements, need %d", dst.Length(), af.length)
	}
	if af.length == 0 {
		return nil
	}
	size := int64(arrayFileHeaderSize) + int64(af.length)*int64(af.width)
	data, err := unix.Mmap(int(af.file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("krati: mmap array file: %w", err)
	}
	defer unix.Munmap(data)

	body := data[arrayFileHeaderSize:]
	for i := uint32(0); i < af.length; i++ {
		off := int64(i) * int64(af.width)
		var v int64
		if af.width == Width4 {
			v = int64(int32(binary.BigEndian.Uint32(body[off : off+4])))
		} else {
			v = int64(binary.BigEndian.Uint64(body[off : off+8]))
		}
		dst.Set(i, v)
	}
	return nil
}

// Put writes a single element in place. No fsync — callers batch flushes.
func (af *ArrayFile) Put(index uint32, value int64) error {
	if index >= af.length {
		return fmt.Errorf("krati: put index %d beyond array file length %d: %w", index, af.length, ErrIndexOutOfRange)
	}
	buf := make([]byte, af.width)
	if af.width == Width4 {
		binary.BigEndian.PutUint32(buf, uint32(int32(value)))
	} else {
		binary.BigEndian.PutUint64(buf, uint64(value))
	}
	if _, err := af.file.WriteAt(buf, af.offsetOf(index)); err != nil {
		return fmt.Errorf("krati: write element %d: %w", index, err)
	}
	return nil
}

// PutBulk applies an ordered batch of records to their element offsets. The
// last write for any given index wins, matching call order.
func (af *ArrayFile) PutBulk(records []record) error {
	for _, r := range records {
		if err := af.Put(r.index, r.value); err != nil {
			return err
		}
	}
	return nil
}

// SetArrayLength grows (zero-filling the tail) or shrinks the file to
// newLength elements and durably updates the header length field.
func (af *ArrayFile) SetArrayLength(newLength uint32) error {
	oldLength := af.length
	size := int64(arrayFileHeaderSize) + int64(newLength)*int64(af.width)
	if err := af.file.Truncate(size); err != nil {
		return fmt.Errorf("krati: resize array file: %w", err)
	}
	af.length = newLength
	if err := af.writeHeader(); err != nil {
		af.length = oldLength
		return err
	}
	if err := af.Flush(); err != nil {
		af.length = oldLength
		return err
	}
	return nil
}

// ResetBody zero-fills the element vector in place (length unchanged) by
// truncating to the header and back out to the current size, relying on
// the filesystem's sparse-extend guarantee to produce zero bytes. Used by
// Clear so a reopen's Load never resurrects pre-clear values.
func (af *ArrayFile) ResetBody() error {
	size := int64(arrayFileHeaderSize) + int64(af.length)*int64(af.width)
	if err := af.file.Truncate(int64(arrayFileHeaderSize)); err != nil {
		return fmt.Errorf("krati: reset array file body: %w", err)
	}
	if err := af.file.Truncate(size); err != nil {
		return fmt.Errorf("krati: reset array file body: %w", err)
	}
	return af.Flush()
}

// WriteWaterMarks persists lwm/hwm to the header and fsyncs.
func (af *ArrayFile) WriteWaterMarks(lwm, hwm int64) error {
	af.lwm, af.hwm = lwm, hwm
	if err := af.writeHeader(); err != nil {
		return err
	}
	return af.Flush()
}

func (af *ArrayFile) writeHeader() error {
	h := arrayFileHeader{
		magic:        arrayFileMagic,
		version:      arrayFileVersion,
		elementWidth: af.width,
		lwmScn:       af.lwm,
		hwmScn:       af.hwm,
		length:       af.length,
	}
	if _, err := af.file.WriteAt(h.encode(), 0); err != nil {
		return fmt.Errorf("krati: write array file header: %w", err)
	}
	return nil
}

// Flush fsyncs file data and metadata.
func (af *ArrayFile) Flush() error {
	if err := af.file.Sync(); err != nil {
		return fmt.Errorf("krati: fsync array file: %w", err)
	}
	return nil
}

// Close releases the file descriptor.
func (af *ArrayFile) Close() error {
	return af.file.Close()
}
