package tlsf

import "math/bits"

// Stats is a point-in-time summary of pool occupancy. Sizes count whole
// blocks, headers included.
type Stats struct {
	Total           int
	Free            int
	Used            int
	LargestFree     int
	AllocatedBlocks int
	FreeBlocks      int
}

// Stats walks the pool physically and summarizes it. The largest free block
// is located through the bitmap MSBs rather than the walk, so it reflects
// the highest non-empty class.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: int(p.end - p.start)}
	for b := p.start; b < p.end; b = p.blockNextPhys(b) {
		if p.blockIsFree(b) {
			s.Free += int(p.blockSize(b))
			s.FreeBlocks++
		} else {
			s.AllocatedBlocks++
		}
	}
	s.Used = s.Total - s.Free

	if p.flBitmap != 0 {
		fl := 31 - bits.LeadingZeros32(p.flBitmap)
		sl := 31 - bits.LeadingZeros32(p.slBitmap[fl])
		if head := p.heads[fl][sl]; head != 0 {
			s.LargestFree = int(p.blockSize(head))
		}
	}
	return s
}

// FreeSize returns the number of free bytes in the pool, headers included.
func (p *Pool) FreeSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for b := p.start; b < p.end; b = p.blockNextPhys(b) {
		if p.blockIsFree(b) {
			total += int(p.blockSize(b))
		}
	}
	return total
}

// FragmentCount returns the number of distinct free blocks.
func (p *Pool) FragmentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for b := p.start; b < p.end; b = p.blockNextPhys(b) {
		if p.blockIsFree(b) {
			n++
		}
	}
	return n
}
