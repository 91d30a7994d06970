package krati

import (
	"encoding/binary"
	"fmt"
)

// ArrayFile header (spec §6), 40 bytes, big-endian:
//
//	4  magic
//	4  version
//	4  element width
//	4  reserved
//	8  lwmScn
//	8  hwmScn
//	4  length
//	4  reserved
const (
	arrayFileMagic      uint32 = 0x4b524154 // "KRAT"
	arrayFileVersion    uint32 = 1
	arrayFileHeaderSize int    = 40
)

type arrayFileHeader struct {
	magic        uint32
	version      uint32
	elementWidth ElementWidth
	lwmScn       int64
	hwmScn       int64
	length       uint32
}

func newArrayFileHeader(width ElementWidth, length uint32) arrayFileHeader {
	return arrayFileHeader{
		magic:        arrayFileMagic,
		version:      arrayFileVersion,
		elementWidth: width,
		length:       length,
	}
}

func (h arrayFileHeader) encode() []byte {
	buf := make([]byte, arrayFileHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.magic)
	binary.BigEndian.PutUint32(buf[4:8], h.version)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.elementWidth))
	// buf[12:16] reserved
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.lwmScn))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.hwmScn))
	binary.BigEndian.PutUint32(buf[32:36], h.length)
	// buf[36:40] reserved
	return buf
}

func decodeArrayFileHeader(buf []byte) (arrayFileHeader, error) {
	var h arrayFileHeader
	if len(buf) < arrayFileHeaderSize {
		return h, fmt.Errorf("krati: short array file header (%d bytes): %w", len(buf), ErrCorruptHeader)
	}
	h.magic = binary.BigEndian.Uint32(buf[0:4])
	h.version = binary.BigEndian.Uint32(buf[4:8])
	h.elementWidth = ElementWidth(binary.BigEndian.Uint32(buf[8:12]))
	h.lwmScn = int64(binary.BigEndian.Uint64(buf[16:24]))
	h.hwmScn = int64(binary.BigEndian.Uint64(buf[24:32]))
	h.length = binary.BigEndian.Uint32(buf[32:36])
	if h.magic != arrayFileMagic || h.version != arrayFileVersion {
		return h, fmt.Errorf("krati: array file signature mismatch: %w", ErrCorruptHeader)
	}
	if !h.elementWidth.valid() {
		return h, fmt.Errorf("krati: array file element width %d: %w", h.elementWidth, ErrCorruptHeader)
	}
	return h, nil
}

// Entry header (spec §6), 32 bytes, big-endian:
//
//	4  magic
//	4  version
//	4  kind
//	4  record count
//	8  minScn
//	8  maxScn
const (
	entryMagic      uint32 = 0x454e5452 // "ENTR"
	entryVersion    uint32 = 1
	entryHeaderSize int    = 32
)

type entryKind uint32

const (
	entryKindLong entryKind = iota + 1
	entryKindLongCompaction
)

type entryHeader struct {
	magic       uint32
	version     uint32
	kind        entryKind
	recordCount uint32
	minScn      int64
	maxScn      int64
}

func newEntryHeader() entryHeader {
	return entryHeader{
		magic:   entryMagic,
		version: entryVersion,
		kind:    entryKindLong,
	}
}

func (h entryHeader) encode() []byte {
	buf := make([]byte, entryHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.magic)
	binary.BigEndian.PutUint32(buf[4:8], h.version)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.kind))
	binary.BigEndian.PutUint32(buf[12:16], h.recordCount)
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.minScn))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.maxScn))
	return buf
}

func decodeEntryHeader(buf []byte) (entryHeader, error) {
	var h entryHeader
	if len(buf) < entryHeaderSize {
		return h, fmt.Errorf("krati: short entry header (%d bytes): %w", len(buf), ErrCorruptHeader)
	}
	h.magic = binary.BigEndian.Uint32(buf[0:4])
	h.version = binary.BigEndian.Uint32(buf[4:8])
	h.kind = entryKind(binary.BigEndian.Uint32(buf[8:12]))
	h.recordCount = binary.BigEndian.Uint32(buf[12:16])
	h.minScn = int64(binary.BigEndian.Uint64(buf[16:24]))
	h.maxScn = int64(binary.BigEndian.Uint64(buf[24:32]))
	if h.magic != entryMagic || h.version != entryVersion {
		return h, fmt.Errorf("krati: entry signature mismatch: %w", ErrCorruptHeader)
	}
	if h.kind != entryKindLong && h.kind != entryKindLongCompaction {
		return h, fmt.Errorf("krati: entry kind %d: %w", h.kind, ErrCorruptHeader)
	}
	return h, nil
}

// recordSize is the on-disk size of one uncompressed (index, value, scn)
// record: 4 + 8 + 8 bytes (spec §3).
const recordSize = 20

func encodeRecord(r record) []byte {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint32(buf[0:4], r.index)
	binary.BigEndian.PutUint64(buf[4:12], uint64(r.value))
	binary.BigEndian.PutUint64(buf[12:20], uint64(r.scn))
	return buf
}

func decodeRecord(buf []byte) record {
	return record{
		index: binary.BigEndian.Uint32(buf[0:4]),
		value: int64(binary.BigEndian.Uint64(buf[4:12])),
		scn:   int64(binary.BigEndian.Uint64(buf[12:20])),
	}
}
