package tlsf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCleanPool(t *testing.T) {
	p := newTestPool(t, 4096)
	ptrs := []Ptr{p.Alloc(100), p.Alloc(32), p.Alloc(700)}
	for _, ptr := range ptrs {
		require.NotEqual(t, Ptr(0), ptr)
	}
	assert.Equal(t, CheckOK, p.Check())
	p.Free(ptrs[1])
	assert.Equal(t, CheckOK, p.Check())
}

func TestCheckDetectsAlignmentBits(t *testing.T) {
	p := newTestPool(t, 4096)
	require.NotEqual(t, Ptr(0), p.Alloc(100))

	// Set a reserved alignment bit in the first block's size word.
	raw := binary.LittleEndian.Uint32(p.mem[p.start+4:])
	binary.LittleEndian.PutUint32(p.mem[p.start+4:], raw|0x4)

	assert.Equal(t, CheckErrAlignment, p.Check())
}

func TestCheckDetectsSizePastHeapEnd(t *testing.T) {
	p := newTestPool(t, 4096)
	require.NotEqual(t, Ptr(0), p.Alloc(100))

	// An aligned, in-range-looking size that runs past the heap end.
	bogus := (p.end - p.start) + 64
	binary.LittleEndian.PutUint32(p.mem[p.start+4:], bogus)

	assert.Equal(t, CheckErrBounds, p.Check())
}

func TestCheckDetectsPrevPhysCorruption(t *testing.T) {
	p := newTestPool(t, 4096)
	a := p.Alloc(100)
	require.NotEqual(t, Ptr(0), a)
	require.NotEqual(t, Ptr(0), p.Alloc(100))

	// Corrupt the second block's back link.
	second := p.blockNextPhys(blockOf(a))
	binary.LittleEndian.PutUint32(p.mem[second:], uint32(second)+8)

	assert.Equal(t, CheckErrPrevLink, p.Check())
}

func TestCheckCodesAreDistinct(t *testing.T) {
	codes := []CheckCode{
		CheckErrAlignment, CheckErrSizeRange, CheckErrBounds,
		CheckErrPrevLink, CheckErrAdjacentFree, CheckErrBitmap,
		CheckErrListBounds, CheckErrListLink,
	}
	seen := map[CheckCode]bool{}
	for _, c := range codes {
		assert.Negative(t, int(c))
		assert.False(t, seen[c], "duplicate code %d", c)
		assert.NotEmpty(t, c.Error())
		seen[c] = true
	}
}

func TestStats(t *testing.T) {
	p := newTestPool(t, 4096)
	total := p.TotalSize()

	s := p.Stats()
	assert.Equal(t, total, s.Total)
	assert.Equal(t, total, s.Free)
	assert.Zero(t, s.Used)
	assert.Equal(t, 1, s.FreeBlocks)
	assert.Zero(t, s.AllocatedBlocks)
	assert.Equal(t, total, s.LargestFree)

	a := p.Alloc(100)
	b := p.Alloc(200)
	require.NotEqual(t, Ptr(0), a)
	require.NotEqual(t, Ptr(0), b)

	s = p.Stats()
	assert.Equal(t, 2, s.AllocatedBlocks)
	assert.Equal(t, 1, s.FreeBlocks)
	assert.Equal(t, s.Total, s.Free+s.Used)
	assert.Equal(t, s.Free, s.LargestFree)

	p.Free(a)
	s = p.Stats()
	assert.Equal(t, 2, s.FreeBlocks)
	assert.Equal(t, 2, p.FragmentCount())
}
