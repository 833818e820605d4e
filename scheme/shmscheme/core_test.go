package shmscheme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redox-os/ipcd/scheme"
)

// fakeCore swaps in a counting mmap/munmap pair so tests can exercise allocation/free bookkeeping without touching
// real page mappings.
func fakeCore() (*Core, *int) {
	c := NewCore()
	allocated := 0

	c.mmap = func(size int) ([]byte, uintptr, error) {
		allocated++
		return make([]byte, size), uintptr(size), nil
	}
	c.munmap = func(buf []byte) error {
		allocated--
		return nil
	}

	return c, &allocated
}

// Test two opens of the same path share one entry and its refcount.
func TestOpenSharesEntry(t *testing.T) {
	c, _ := fakeCore()

	first, err := c.Open("region-a")
	require.NoError(t, err)
	second, err := c.Open("region-a")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, len(c.entries))
	assert.Equal(t, 2, c.entries["region-a"].refCount)
}

// Test the entry (and its mapping) is freed only once the last handle closes.
func TestCloseFreesAtZeroRefcount(t *testing.T) {
	c, allocated := fakeCore()

	first, err := c.Open("region-b")
	require.NoError(t, err)
	second, err := c.Open("region-b")
	require.NoError(t, err)

	_, err = c.MmapPrep(first, 0, 128, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, *allocated)

	require.NoError(t, c.Close(first))
	assert.Equal(t, 1, len(c.entries), "entry survives while second handle is open")

	require.NoError(t, c.Close(second))
	assert.Equal(t, 0, len(c.entries))
	assert.Equal(t, 0, *allocated, "buffer unmapped once refcount hits zero")
}

// Test MmapPrep rejects an offset+size that exceeds the allocated buffer.
func TestMmapPrepOutOfRange(t *testing.T) {
	c, _ := fakeCore()

	id, err := c.Open("region-c")
	require.NoError(t, err)

	_, err = c.MmapPrep(id, 0, 100, 0)
	require.NoError(t, err)

	_, err = c.MmapPrep(id, 4096, 100, 0)
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrOutOfRange, coreErr.Kind)
}

// Test fpath returns "shm:" + the entry's own path.
func TestFpath(t *testing.T) {
	c, _ := fakeCore()

	id, err := c.Open("named-region")
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := c.Fpath(id, buf)
	require.NoError(t, err)
	assert.Equal(t, "shm:named-region", string(buf[:n]))
}

// Test operations against an unknown handle fail bad-file.
func TestUnknownHandle(t *testing.T) {
	c, _ := fakeCore()

	_, err := c.Fpath(999, make([]byte, 8))
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrBadFile, coreErr.Kind)

	err = c.Fsync(999)
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrBadFile, coreErr.Kind)
}
