package krati

import "errors"

// Sentinel errors for the error kinds named in the array store's contract.
// Io failures from the underlying os/unix calls are returned wrapped with
// fmt.Errorf and are not sentinels themselves — callers should use
// errors.Is/errors.As against the wrapping error where relevant.
var (
	// ErrCorruptHeader is returned by Open when an ArrayFile or Entry
	// header fails its signature/version check. Fatal — requires operator
	// action, never retried internally.
	ErrCorruptHeader = errors.New("krati: corrupt header")

	// ErrCorruptEntry marks an Entry whose record stream became malformed
	// partway through. Replay stops at the first bad record; everything
	// read before it is kept.
	ErrCorruptEntry = errors.New("krati: corrupt entry")

	// ErrIndexOutOfRange is returned by Get for an index at or beyond the
	// array's current length, and by ArrayFile.Put for an index beyond the
	// file's length. Set and ExpandCapacity auto-expand below the maximum
	// length (2^31-1) and return it only for an index at or above it.
	ErrIndexOutOfRange = errors.New("krati: index out of range")

	// ErrNotOpen is returned by Get, Set, ExpandCapacity, SaveHWMark, Sync,
	// Persist, Compact and Clear when the array is not in the OPEN state.
	// Close, IsOpen and Length do not return it; GetHWMark, GetLWMark and
	// Checksum do not check the state.
	ErrNotOpen = errors.New("krati: array not open")

	// errEntryFull is internal: Entry.Append returns it when the entry has
	// reached maxEntrySize records. EntryManager handles it by rolling to
	// a fresh Entry; callers of the public API never see it.
	errEntryFull = errors.New("krati: entry full")
)
