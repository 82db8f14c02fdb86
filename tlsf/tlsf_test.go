package tlsf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := New(make([]byte, size))
	require.NoError(t, err)
	require.Equal(t, CheckOK, p.Check())
	return p
}

func TestNewRejectsTinyPool(t *testing.T) {
	_, err := New(make([]byte, BlockMinSize))
	require.ErrorIs(t, err, ErrPoolTooSmall)

	_, err = New(nil)
	require.ErrorIs(t, err, ErrPoolTooSmall)
}

func TestAllocZeroAndNegative(t *testing.T) {
	p := newTestPool(t, 4096)
	assert.Equal(t, Ptr(0), p.Alloc(0))
	assert.Equal(t, Ptr(0), p.Alloc(-1))
}

func TestAllocAlignment(t *testing.T) {
	p := newTestPool(t, 8192)
	for _, n := range []int{1, 3, 7, 8, 13, 100, 255, 1000} {
		ptr := p.Alloc(n)
		require.NotEqual(t, Ptr(0), ptr, "Alloc(%d)", n)
		assert.Zero(t, uint32(ptr)%AlignSize, "Alloc(%d) = %#x", n, ptr)
	}
	assert.Equal(t, CheckOK, p.Check())
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := newTestPool(t, 16384)
	initial := p.FreeSize()

	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 20; iter++ {
		var ptrs []Ptr
		for i := 0; i < 16; i++ {
			ptr := p.Alloc(1 + rng.Intn(200))
			require.NotEqual(t, Ptr(0), ptr)
			ptrs = append(ptrs, ptr)
		}
		rng.Shuffle(len(ptrs), func(i, j int) { ptrs[i], ptrs[j] = ptrs[j], ptrs[i] })
		for _, ptr := range ptrs {
			p.Free(ptr)
		}
		require.Equal(t, initial, p.FreeSize(), "iteration %d", iter)
		require.Equal(t, CheckOK, p.Check())
	}
}

func TestFreeNull(t *testing.T) {
	p := newTestPool(t, 4096)
	before := p.FreeSize()
	p.Free(0)
	assert.Equal(t, before, p.FreeSize())
}

func TestCoalescingAllOrders(t *testing.T) {
	perms := [][3]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range perms {
		p := newTestPool(t, 4096)
		var blocks [3]Ptr
		for i := range blocks {
			blocks[i] = p.Alloc(64)
			require.NotEqual(t, Ptr(0), blocks[i])
		}
		// Guard allocation keeps the tail of the pool from merging into the
		// region under test.
		guard := p.Alloc(64)
		require.NotEqual(t, Ptr(0), guard)

		for _, i := range perm {
			p.Free(blocks[i])
		}
		// The three adjacent blocks must have merged into a single free
		// block; the only other fragment is the pool tail.
		assert.Equal(t, 2, p.FragmentCount(), "order %v", perm)
		assert.Equal(t, CheckOK, p.Check())
	}
}

func TestTinyRemainderNotSplit(t *testing.T) {
	p := newTestPool(t, 4096)
	usable := p.FreeSize()

	// Request a size whose remainder is positive but below the minimum
	// block size: the whole block must be used and the pool left empty.
	n := usable - headerOverhead - (BlockMinSize - AlignSize)
	ptr := p.Alloc(n)
	require.NotEqual(t, Ptr(0), ptr)
	assert.Zero(t, p.FreeSize())
	assert.Equal(t, Ptr(0), p.Alloc(1))

	p.Free(ptr)
	assert.Equal(t, usable, p.FreeSize())
}

func TestAllocExhaustionReturnsNull(t *testing.T) {
	p := newTestPool(t, 1024)
	var ptrs []Ptr
	for {
		ptr := p.Alloc(64)
		if ptr == 0 {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	require.NotEmpty(t, ptrs)
	assert.Equal(t, Ptr(0), p.Alloc(p.TotalSize()))
	for _, ptr := range ptrs {
		p.Free(ptr)
	}
	assert.Equal(t, CheckOK, p.Check())
}

func TestPayloadLengthCoversRequest(t *testing.T) {
	p := newTestPool(t, 4096)
	ptr := p.Alloc(100)
	require.NotEqual(t, Ptr(0), ptr)
	buf := p.Payload(ptr)
	assert.GreaterOrEqual(t, len(buf), 100)

	for i := range buf {
		buf[i] = byte(i)
	}
	assert.Equal(t, CheckOK, p.Check(), "payload writes must not touch metadata")
}

func TestReallocShrinkInPlace(t *testing.T) {
	p := newTestPool(t, 4096)
	ptr := p.Alloc(512)
	require.NotEqual(t, Ptr(0), ptr)
	buf := p.Payload(ptr)
	for i := 0; i < 64; i++ {
		buf[i] = byte(i)
	}

	np := p.Realloc(ptr, 64)
	assert.Equal(t, ptr, np)
	assert.Equal(t, CheckOK, p.Check())
	nb := p.Payload(np)
	for i := 0; i < 64; i++ {
		require.Equal(t, byte(i), nb[i])
	}
}

func TestReallocGrowAbsorbsSuccessor(t *testing.T) {
	p := newTestPool(t, 4096)
	a := p.Alloc(64)
	b := p.Alloc(256)
	guard := p.Alloc(64)
	require.NotEqual(t, Ptr(0), guard)

	p.Free(b) // successor of a is now free
	np := p.Realloc(a, 128)
	assert.Equal(t, a, np, "growth into a free successor stays in place")
	assert.Equal(t, CheckOK, p.Check())
}

func TestReallocGrowMoves(t *testing.T) {
	p := newTestPool(t, 8192)
	a := p.Alloc(64)
	blocker := p.Alloc(64)
	require.NotEqual(t, Ptr(0), blocker)

	buf := p.Payload(a)
	for i := 0; i < 64; i++ {
		buf[i] = byte(0xA0 ^ i)
	}

	np := p.Realloc(a, 1024)
	require.NotEqual(t, Ptr(0), np)
	assert.NotEqual(t, a, np)
	nb := p.Payload(np)
	for i := 0; i < 64; i++ {
		require.Equal(t, byte(0xA0^i), nb[i])
	}
	assert.Equal(t, CheckOK, p.Check())
}

func TestReallocNullAndZero(t *testing.T) {
	p := newTestPool(t, 4096)
	initial := p.FreeSize()

	ptr := p.Realloc(0, 100) // behaves as Alloc
	require.NotEqual(t, Ptr(0), ptr)

	assert.Equal(t, Ptr(0), p.Realloc(ptr, 0)) // behaves as Free
	assert.Equal(t, initial, p.FreeSize())
}

func TestIsPointer(t *testing.T) {
	p := newTestPool(t, 4096)
	ptr := p.Alloc(100)
	assert.True(t, p.IsPointer(ptr))
	assert.False(t, p.IsPointer(0))
	assert.False(t, p.IsPointer(Ptr(len(p.mem)+100)))
}

func TestScenarioAllocatorRoundTrip(t *testing.T) {
	// init over a 4096-byte pool; three allocations freed out of order must
	// return the free size exactly to its initial value.
	p := newTestPool(t, 4096)
	initial := p.FreeSize()

	p1 := p.Alloc(100)
	p2 := p.Alloc(200)
	p3 := p.Alloc(50)
	require.NotEqual(t, Ptr(0), p1)
	require.NotEqual(t, Ptr(0), p2)
	require.NotEqual(t, Ptr(0), p3)

	p.Free(p2)
	p.Free(p1)
	p.Free(p3)

	assert.Equal(t, initial, p.FreeSize())
	assert.Equal(t, 1, p.FragmentCount())
	assert.Equal(t, CheckOK, p.Check())
}
