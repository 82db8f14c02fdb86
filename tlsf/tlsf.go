package tlsf

import (
	"errors"
	"sync"
)

// maxRequestSize bounds a single allocation so the class mapping (including
// the search-time round-up) never leaves the first-level index range.
const maxRequestSize = 1 << (flIndexMax - 1)

var (
	// ErrPoolTooSmall is returned by New when the pool cannot hold even a
	// single minimum-size block after alignment.
	ErrPoolTooSmall = errors.New("tlsf: pool too small")

	// ErrPoolTooLarge is returned by New when the pool exceeds the maximum
	// representable block size.
	ErrPoolTooLarge = errors.New("tlsf: pool too large")
)

// Pool is a TLSF heap over a single contiguous byte region. All state,
// including the free lists, lives inside the region itself; the Pool value
// only carries the class bitmaps and list heads.
type Pool struct {
	mu  sync.Locker
	mem []byte

	start uint32 // offset of the first block header
	end   uint32 // one past the last byte of the last block

	flBitmap uint32
	slBitmap [flIndexCount]uint32
	heads    [flIndexCount][slIndexCount]uint32
}

// Option configures a Pool.
type Option interface {
	apply(*Pool)
}

type optionFunc func(*Pool)

func (f optionFunc) apply(p *Pool) { f(p) }

// WithLocker sets the lock serializing every exported operation. The default
// is a private sync.Mutex; a kernel embedding the pool passes its IRQ-masking
// spinlock so allocator and scheduler share one critical-section discipline.
func WithLocker(mu sync.Locker) Option {
	return optionFunc(func(p *Pool) { p.mu = mu })
}

// New initializes a pool over buf. The start is aligned upward, a single
// maximal free block is stored, and the class bitmaps start empty. Returns
// ErrPoolTooSmall if the aligned region cannot hold one minimum block.
func New(buf []byte, opts ...Option) (*Pool, error) {
	p := &Pool{mem: buf}
	for _, o := range opts {
		if o != nil {
			o.apply(p)
		}
	}
	if p.mu == nil {
		p.mu = &sync.Mutex{}
	}

	// The first header starts one alignment unit in, so offset 0 is never a
	// valid block and Ptr(0) is unambiguously null.
	p.start = AlignSize
	if uint64(len(buf)) < uint64(p.start)+BlockMinSize {
		return nil, ErrPoolTooSmall
	}
	p.end = uint32(len(buf)) &^ (AlignSize - 1)
	if p.end-p.start >= blockMaxSize {
		return nil, ErrPoolTooLarge
	}

	p.setPrevPhys(p.start, 0)
	p.setSizeFree(p.start, p.end-p.start)
	p.insertFree(p.start)
	return p, nil
}

// TotalSize returns the size of the managed region in bytes, headers
// included.
func (p *Pool) TotalSize() int { return int(p.end - p.start) }

// Alloc returns the offset of a payload at least n bytes long, or 0 when n
// is zero, too large, or no suitable free block exists.
func (p *Pool) Alloc(n int) Ptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc(n)
}

func (p *Pool) alloc(n int) Ptr {
	if n <= 0 || n > maxRequestSize {
		return 0
	}
	adjusted := AlignUp(uint32(n)+headerOverhead, AlignSize)
	if adjusted < BlockMinSize {
		adjusted = BlockMinSize
	}

	fl, sl := mappingSearch(adjusted)
	b := p.findSuitable(&fl, &sl)
	if b == 0 {
		// The search round-up can skip the request's own class; the head
		// block of that class may still be large enough.
		fl, sl = mapping(adjusted)
		if b = p.heads[fl][sl]; b == 0 || p.blockSize(b) < adjusted {
			return 0
		}
	}
	p.removeFreeAt(b, fl, sl)
	p.trim(b, adjusted)
	p.setSizeUsed(b, p.blockSize(b))
	return p.payloadOf(b)
}

// trim splits the tail off b when the remainder is itself a viable block,
// reinserting the remainder as free. Tiny remainders stay attached.
func (p *Pool) trim(b, size uint32) {
	if p.blockSize(b)-size < BlockMinSize {
		return
	}
	rem := b + size
	remSize := p.blockSize(b) - size
	p.setSizeUsed(b, size)
	p.setPrevPhys(rem, b)
	p.setSizeFree(rem, remSize)
	if next := p.blockNextPhys(rem); next < p.end {
		p.setPrevPhys(next, rem)
	}
	p.insertFree(rem)
}

// Free returns the payload at ptr to the pool, coalescing with free physical
// neighbours. A null ptr is a no-op. Double frees are not detected.
func (p *Pool) Free(ptr Ptr) {
	if ptr == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free(blockOf(ptr))
}

func (p *Pool) free(b uint32) {
	size := p.blockSize(b)

	if prev := p.blockPrevPhys(b); prev != 0 && p.blockIsFree(prev) {
		p.removeFree(prev)
		size += p.blockSize(prev)
		b = prev
	}
	if next := b + size; next < p.end && p.blockIsFree(next) {
		p.removeFree(next)
		size += p.blockSize(next)
	}

	p.setSizeFree(b, size)
	if next := b + size; next < p.end {
		p.setPrevPhys(next, b)
	}
	p.insertFree(b)
}

// Realloc resizes the payload at ptr to n bytes. A null ptr behaves as
// Alloc; n == 0 behaves as Free and returns 0. Shrinks happen in place,
// growth absorbs a free physical successor when that suffices, and otherwise
// the payload moves to a fresh allocation.
func (p *Pool) Realloc(ptr Ptr, n int) Ptr {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ptr == 0 {
		return p.alloc(n)
	}
	if n == 0 {
		p.free(blockOf(ptr))
		return 0
	}
	if n < 0 || n > maxRequestSize {
		return 0
	}

	b := blockOf(ptr)
	cur := p.blockSize(b)
	adjusted := AlignUp(uint32(n)+headerOverhead, AlignSize)
	if adjusted < BlockMinSize {
		adjusted = BlockMinSize
	}

	if adjusted <= cur {
		// Shrink in place. The remainder is released through the free path
		// rather than trim so it can coalesce with a free successor.
		if cur-adjusted >= BlockMinSize {
			rem := b + adjusted
			p.setSizeUsed(b, adjusted)
			p.setPrevPhys(rem, b)
			p.setSizeUsed(rem, cur-adjusted)
			if next := rem + (cur - adjusted); next < p.end {
				p.setPrevPhys(next, rem)
			}
			p.free(rem)
		}
		return ptr
	}

	if next := p.blockNextPhys(b); next < p.end && p.blockIsFree(next) &&
		cur+p.blockSize(next) >= adjusted {
		p.removeFree(next)
		merged := cur + p.blockSize(next)
		p.setSizeUsed(b, merged)
		if after := b + merged; after < p.end {
			p.setPrevPhys(after, b)
		}
		p.trim(b, adjusted)
		return ptr
	}

	np := p.alloc(n)
	if np == 0 {
		return 0
	}
	copy(p.mem[np:np+Ptr(cur-headerOverhead)], p.mem[ptr:])
	p.free(b)
	return np
}

// Payload returns the usable bytes of the allocation at ptr. The slice
// aliases the pool region; its length is the full rounded-up block payload,
// which may exceed the originally requested size.
func (p *Pool) Payload(ptr Ptr) []byte {
	if ptr == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b := blockOf(ptr)
	return p.mem[ptr : b+p.blockSize(b)]
}

// IsPointer reports whether ptr falls inside the managed region, as a
// half-open range test. The scheduler uses this to decide whether a task
// stack should be freed on reap.
func (p *Pool) IsPointer(ptr Ptr) bool {
	return uint32(ptr) >= p.start && uint32(ptr) < p.end
}
