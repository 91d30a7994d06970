package krati

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndOpenArrayFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.dat")

	af, err := CreateArrayFile(path, 10, Width8)
	require.NoError(t, err)
	require.NoError(t, af.Put(0, 42))
	require.NoError(t, af.Put(9, -7))
	require.NoError(t, af.WriteWaterMarks(3, 5))
	require.NoError(t, af.Close())

	reopened, err := OpenArrayFile(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.EqualValues(t, 10, reopened.Length())
	assert.Equal(t, Width8, reopened.Width())
	lwm, hwm := reopened.WaterMarks()
	assert.EqualValues(t, 3, lwm)
	assert.EqualValues(t, 5, hwm)

	mem := NewMemoryArray(4)
	require.NoError(t, mem.ExpandCapacity(reopened.Length()-1))
	require.NoError(t, reopened.Load(mem))
	assert.EqualValues(t, 42, mem.Get(0))
	assert.EqualValues(t, -7, mem.Get(9))
}

func TestArrayFileWidth4TruncatesTo32Bits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.dat")
	af, err := CreateArrayFile(path, 2, Width4)
	require.NoError(t, err)
	defer af.Close()

	require.NoError(t, af.Put(0, -1))
	mem := NewMemoryArray(2)
	require.NoError(t, mem.ExpandCapacity(1))
	require.NoError(t, af.Load(mem))
	assert.EqualValues(t, -1, mem.Get(0))
}

func TestArrayFilePutOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.dat")
	af, err := CreateArrayFile(path, 2, Width8)
	require.NoError(t, err)
	defer af.Close()

	err = af.Put(5, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestArrayFileSetArrayLengthGrowsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.dat")
	af, err := CreateArrayFile(path, 2, Width8)
	require.NoError(t, err)
	defer af.Close()

	require.NoError(t, af.SetArrayLength(8))
	assert.EqualValues(t, 8, af.Length())
	require.NoError(t, af.Put(7, 99))

	mem := NewMemoryArray(4)
	require.NoError(t, mem.ExpandCapacity(7))
	require.NoError(t, af.Load(mem))
	assert.EqualValues(t, 99, mem.Get(7))
}

func TestOpenArrayFileRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.dat")
	af, err := CreateArrayFile(path, 1, Width8)
	require.NoError(t, err)
	require.NoError(t, af.Close())

	// corrupt the magic bytes
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = OpenArrayFile(path)
	assert.ErrorIs(t, err, ErrCorruptHeader)
}
