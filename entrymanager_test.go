package krati

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOptions(dir string) *Options {
	o := DefaultOptions()
	o.Directory = dir
	o.MaxEntrySize = 2
	o.MaxEntries = 2
	return o
}

func TestEntryManagerAddRecordAndSync(t *testing.T) {
	dir := t.TempDir()
	af, err := CreateArrayFile(filepath.Join(dir, "indexes.dat"), 4, Width8)
	require.NoError(t, err)
	defer af.Close()

	m, err := openEntryManager(dir, af, newTestOptions(dir))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddRecord(0, 100, 1))
	require.NoError(t, m.AddRecord(1, 200, 2))
	assert.EqualValues(t, 2, m.GetHWMark())
	assert.EqualValues(t, 0, m.GetLWMark())

	require.NoError(t, m.Sync())
	assert.EqualValues(t, 2, m.GetLWMark())

	mem := NewMemoryArray(2)
	require.NoError(t, mem.ExpandCapacity(3))
	require.NoError(t, af.Load(mem))
	assert.EqualValues(t, 100, mem.Get(0))
	assert.EqualValues(t, 200, mem.Get(1))
}

func TestEntryManagerRolloverAppliesBackpressure(t *testing.T) {
	dir := t.TempDir()
	af, err := CreateArrayFile(filepath.Join(dir, "indexes.dat"), 8, Width8)
	require.NoError(t, err)
	defer af.Close()

	opts := newTestOptions(dir)
	opts.MaxEntrySize = 1
	opts.MaxEntries = 2
	m, err := openEntryManager(dir, af, opts)
	require.NoError(t, err)
	defer m.Close()

	// slot A open, fills and seals on the second AddRecord (rollover to B);
	// a third record forces the pool to synchronously retire A since both
	// slots would otherwise be OPEN/FULL simultaneously.
	require.NoError(t, m.AddRecord(0, 1, 1))
	require.NoError(t, m.AddRecord(1, 2, 2))
	require.NoError(t, m.AddRecord(2, 3, 3))

	assert.EqualValues(t, 3, m.GetHWMark())
	assert.LessOrEqual(t, m.pool.FullCount(), 1)

	mem := NewMemoryArray(2)
	require.NoError(t, mem.ExpandCapacity(7))
	require.NoError(t, af.Load(mem))
	assert.EqualValues(t, 1, mem.Get(0))
}

func TestOpenEntryManagerRecoversPendingRecords(t *testing.T) {
	dir := t.TempDir()
	afPath := filepath.Join(dir, "indexes.dat")
	af, err := CreateArrayFile(afPath, 4, Width8)
	require.NoError(t, err)

	opts := newTestOptions(dir)
	m, err := openEntryManager(dir, af, opts)
	require.NoError(t, err)

	require.NoError(t, m.AddRecord(0, 111, 1))
	require.NoError(t, m.AddRecord(1, 222, 2))
	// Not synced: records sit in the OPEN entry only, not yet in af.
	require.NoError(t, m.pool.Current().Flush())
	require.NoError(t, af.Close())

	af2, err := OpenArrayFile(afPath)
	require.NoError(t, err)
	defer af2.Close()

	m2, err := openEntryManager(dir, af2, opts)
	require.NoError(t, err)
	defer m2.Close()

	assert.EqualValues(t, 2, m2.GetLWMark())
	assert.EqualValues(t, 2, m2.GetHWMark())

	mem := NewMemoryArray(2)
	require.NoError(t, mem.ExpandCapacity(3))
	require.NoError(t, af2.Load(mem))
	assert.EqualValues(t, 111, mem.Get(0))
	assert.EqualValues(t, 222, mem.Get(1))
}

func TestEntryManagerClearResetsWaterMarks(t *testing.T) {
	dir := t.TempDir()
	af, err := CreateArrayFile(filepath.Join(dir, "indexes.dat"), 4, Width8)
	require.NoError(t, err)
	defer af.Close()

	m, err := openEntryManager(dir, af, newTestOptions(dir))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddRecord(0, 1, 1))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Clear())
	assert.EqualValues(t, 0, m.GetLWMark())
	assert.EqualValues(t, 0, m.GetHWMark())
}

func TestEntryManagerCompactDedupesAndPreservesRecords(t *testing.T) {
	dir := t.TempDir()
	af, err := CreateArrayFile(filepath.Join(dir, "indexes.dat"), 4, Width8)
	require.NoError(t, err)
	defer af.Close()

	opts := newTestOptions(dir)
	opts.MaxEntrySize = 1
	opts.MaxEntries = 3
	opts.CompactionCodec = CodecZstd
	m, err := openEntryManager(dir, af, opts)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddRecord(0, 1, 1))
	require.NoError(t, m.pool.Seal())
	require.NoError(t, m.AddRecord(0, 2, 2)) // overwrite index 0 again
	require.NoError(t, m.pool.Seal())

	require.NoError(t, m.Compact())
	assert.Equal(t, 1, m.pool.FullCount())

	require.NoError(t, m.Sync())
	mem := NewMemoryArray(2)
	require.NoError(t, mem.ExpandCapacity(3))
	require.NoError(t, af.Load(mem))
	assert.EqualValues(t, 2, mem.Get(0))
}
