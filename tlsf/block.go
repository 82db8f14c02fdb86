package tlsf

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Size-class geometry. The second level splits every power-of-two range into
// slIndexCount linear subdivisions; sizes below smallBlockSize map directly
// to a compact low-end class so tiny blocks don't waste first-level slots.
const (
	alignSizeLog2 = 3
	// AlignSize is the alignment of every block, header and payload.
	AlignSize = 1 << alignSizeLog2

	slIndexCountLog2 = 4
	slIndexCount     = 1 << slIndexCountLog2

	flIndexMax   = 30
	flIndexShift = slIndexCountLog2 + alignSizeLog2
	flIndexCount = flIndexMax - flIndexShift + 1

	smallBlockSize = 1 << flIndexShift

	// headerOverhead is the per-block header: prev_phys word + size/flags word.
	headerOverhead = 8

	// BlockMinSize is the smallest representable block, header included. The
	// payload must be able to hold the two free-list link words.
	BlockMinSize = headerOverhead + 8

	blockMaxSize = 1 << flIndexMax

	flagFree = uint32(1)
	// Bits below the alignment are reserved; only flagFree is meaningful.
	flagMask = AlignSize - 1
)

// Ptr is a payload address within the pool, as a byte offset. The zero value
// is the null pointer; no valid payload ever starts at offset 0 because the
// first block header sits one alignment unit into the pool.
type Ptr uint32

// AlignUp rounds v up to the next multiple of a, which must be a power of
// two.
func AlignUp[T constraints.Unsigned](v, a T) T {
	return (v + a - 1) &^ (a - 1)
}

// Block header accessors. A block offset addresses the header; the payload
// begins headerOverhead bytes later. Free blocks keep their class-list links
// in the first two payload words.

func (p *Pool) word(off uint32) uint32 {
	return binary.LittleEndian.Uint32(p.mem[off:])
}

func (p *Pool) setWord(off, v uint32) {
	binary.LittleEndian.PutUint32(p.mem[off:], v)
}

func (p *Pool) blockPrevPhys(b uint32) uint32 { return p.word(b) }
func (p *Pool) setPrevPhys(b, prev uint32)    { p.setWord(b, prev) }
func (p *Pool) blockSize(b uint32) uint32     { return p.word(b+4) &^ flagMask }
func (p *Pool) blockIsFree(b uint32) bool     { return p.word(b+4)&flagFree != 0 }
func (p *Pool) setSizeFree(b, size uint32)    { p.setWord(b+4, size|flagFree) }
func (p *Pool) setSizeUsed(b, size uint32)    { p.setWord(b+4, size) }
func (p *Pool) blockNextFree(b uint32) uint32 { return p.word(b + headerOverhead) }
func (p *Pool) blockPrevFree(b uint32) uint32 { return p.word(b + headerOverhead + 4) }
func (p *Pool) setNextFree(b, next uint32)    { p.setWord(b+headerOverhead, next) }
func (p *Pool) setPrevFree(b, prev uint32)    { p.setWord(b+headerOverhead+4, prev) }
func (p *Pool) blockNextPhys(b uint32) uint32 { return b + p.blockSize(b) }
func (p *Pool) payloadOf(b uint32) Ptr        { return Ptr(b + headerOverhead) }
func blockOf(ptr Ptr) uint32                  { return uint32(ptr) - headerOverhead }

// mapping computes the (first, second) level class indices for a block size.
func mapping(size uint32) (fl, sl int) {
	if size < smallBlockSize {
		fl = 0
		sl = int(size) / (smallBlockSize / slIndexCount)
	} else {
		f := 31 - bits.LeadingZeros32(size)
		sl = int((size>>(uint(f)-slIndexCountLog2))^(1<<slIndexCountLog2)) & (slIndexCount - 1)
		fl = f - flIndexShift + 1
	}
	return
}

// mappingSearch maps a requested size for searching: the size is rounded up
// to the next class boundary first, so the first non-empty class found is
// guaranteed to hold blocks large enough.
func mappingSearch(size uint32) (fl, sl int) {
	if size >= smallBlockSize {
		f := 31 - bits.LeadingZeros32(size)
		size += (uint32(1) << (uint(f) - slIndexCountLog2)) - 1
	}
	return mapping(size)
}

// findSuitable locates the first non-empty class at or above (fl, sl) using
// the two bitmap levels, returning the head block of that class list or 0.
func (p *Pool) findSuitable(fl, sl *int) uint32 {
	slMap := p.slBitmap[*fl] & (^uint32(0) << uint(*sl))
	if slMap == 0 {
		flMap := p.flBitmap & (^uint32(0) << uint(*fl+1))
		if flMap == 0 {
			return 0
		}
		*fl = bits.TrailingZeros32(flMap)
		slMap = p.slBitmap[*fl]
	}
	*sl = bits.TrailingZeros32(slMap)
	return p.heads[*fl][*sl]
}

// insertFree links b at the head of its class list and sets the bitmap bits.
func (p *Pool) insertFree(b uint32) {
	fl, sl := mapping(p.blockSize(b))
	head := p.heads[fl][sl]
	p.setNextFree(b, head)
	p.setPrevFree(b, 0)
	if head != 0 {
		p.setPrevFree(head, b)
	}
	p.heads[fl][sl] = b
	p.flBitmap |= 1 << uint(fl)
	p.slBitmap[fl] |= 1 << uint(sl)
}

// removeFree unlinks b from the class list given by its size, clearing the
// bitmap bits when the list empties.
func (p *Pool) removeFree(b uint32) {
	fl, sl := mapping(p.blockSize(b))
	p.removeFreeAt(b, fl, sl)
}

func (p *Pool) removeFreeAt(b uint32, fl, sl int) {
	next := p.blockNextFree(b)
	prev := p.blockPrevFree(b)
	if next != 0 {
		p.setPrevFree(next, prev)
	}
	if prev != 0 {
		p.setNextFree(prev, next)
	} else {
		p.heads[fl][sl] = next
		if next == 0 {
			p.slBitmap[fl] &^= 1 << uint(sl)
			if p.slBitmap[fl] == 0 {
				p.flBitmap &^= 1 << uint(fl)
			}
		}
	}
}
