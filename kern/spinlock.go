package kern

import "sync/atomic"

// SpinLock is an IRQ-safe critical section: acquisition masks interrupts and
// then spins on an atomic test-and-set. On uniprocessor targets the
// test-and-set never contends and the lock degrades to a plain mask
// save/restore.
//
// SpinLock implements sync.Locker; the saved mask rides in the lock itself,
// which is sound because only the holder releases. The lock does not nest —
// nesting is the IRQ mask's job, and kernel code never re-acquires a lock it
// holds.
type SpinLock struct {
	port Port
	v    uint32
	mask uint32
}

func (l *SpinLock) Lock() {
	mask := l.port.IRQSave()
	for l.port.TestAndSet(&l.v) != 0 {
		l.port.Nop()
	}
	l.mask = mask
}

func (l *SpinLock) Unlock() {
	mask := l.mask
	l.port.Barrier()
	atomic.StoreUint32(&l.v, 0)
	l.port.IRQRestore(mask)
}
