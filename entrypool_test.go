package krati

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, maxEntries, maxEntrySize int) *EntryPool {
	t.Helper()
	dir := t.TempDir()
	slots := make([]*Entry, maxEntries)
	for i := 0; i < maxEntries; i++ {
		e, err := newEntrySlot(dir, i, maxEntrySize)
		require.NoError(t, err)
		slots[i] = e
	}
	return newEntryPool(dir, maxEntries, maxEntrySize, slots)
}

func TestEntryPoolAcquireSealRetireCycle(t *testing.T) {
	p := newTestPool(t, 2, 2)

	e := p.AcquireFree()
	require.NotNil(t, e)
	assert.Same(t, e, p.Current())

	require.NoError(t, e.Append(0, 1, 1))
	require.NoError(t, p.Seal())
	assert.Nil(t, p.Current())
	assert.Equal(t, 1, p.FullCount())

	af, err := CreateArrayFile(filepath.Join(t.TempDir(), "indexes.dat"), 1, Width8)
	require.NoError(t, err)
	defer af.Close()

	oldest := p.OldestFull()
	require.NoError(t, p.Retire(oldest, af))
	assert.Equal(t, 0, p.FullCount())

	mem := NewMemoryArray(1)
	require.NoError(t, mem.ExpandCapacity(0))
	require.NoError(t, af.Load(mem))
	assert.EqualValues(t, 1, mem.Get(0))
}

func TestEntryPoolAcquireFreeReturnsNilWhenExhausted(t *testing.T) {
	p := newTestPool(t, 1, 1)
	e := p.AcquireFree()
	require.NotNil(t, e)
	assert.Nil(t, p.AcquireFree())
}

func TestEntryPoolRetireOutOfOrderFails(t *testing.T) {
	p := newTestPool(t, 2, 1)
	a := p.AcquireFree()
	require.NoError(t, a.Append(0, 1, 1))
	require.NoError(t, p.Seal())

	b := p.AcquireFree()
	require.NoError(t, b.Append(1, 2, 2))
	require.NoError(t, p.Seal())

	af, err := CreateArrayFile(filepath.Join(t.TempDir(), "indexes.dat"), 2, Width8)
	require.NoError(t, err)
	defer af.Close()

	err = p.Retire(b, af)
	assert.Error(t, err)
}
