// Package hostport provides the hosted architecture and platform ports for
// the kernel: goroutine-backed task contexts, channel-handoff context
// switches, a simulated interrupt mask, and a manually advanced tick clock.
//
// The hosted port is cooperative at preemption points: a tick can mark a
// reschedule as needed, but the switch itself happens at the running task's
// next yield or suspension point, exactly as the kernel's own discipline
// requires (no lock is ever held across a yield).
package hostport

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sabarioded/sortos/kern"
)

// taskContext is one task's execution context: a goroutine parked on its
// resume channel. The channel is buffered so a wakeup sent before the
// context has parked is never lost.
type taskContext struct {
	entry   func(any)
	arg     any
	exit    func()
	resume  chan struct{}
	started bool
	retired bool
}

func (c *taskContext) run() {
	<-c.resume
	c.entry(c.arg)
	c.exit()
}

// Host implements both kern.Port and kern.Platform over the Go runtime.
type Host struct {
	handler func()

	ticks    atomic.Uint64
	irqDepth atomic.Uint32

	mu   sync.Mutex
	cond *sync.Cond

	freq uint64
}

// New creates a hosted port/platform pair (one value serves as both).
func New() *Host {
	h := &Host{freq: 100_000_000}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// --- kern.Port ---

// CPUID returns 0: the hosted port models a uniprocessor.
func (h *Host) CPUID() int { return 0 }

// IRQSave bumps the simulated mask nesting depth and returns the prior
// depth. Mutual exclusion itself comes from the spinlocks' test-and-set.
func (h *Host) IRQSave() uint32 {
	return h.irqDepth.Add(1) - 1
}

// IRQRestore reinstates a previously saved depth.
func (h *Host) IRQRestore(mask uint32) {
	h.irqDepth.Store(mask)
}

// TestAndSet atomically swaps 1 into v and returns the prior value.
func (h *Host) TestAndSet(v *uint32) uint32 {
	return atomic.SwapUint32(v, 1)
}

// Barrier is a no-op: the Go memory model orders everything the kernel
// publishes under its spinlocks.
func (h *Host) Barrier() {}

// Nop yields the processor to another goroutine, standing in for a
// spin-wait pause.
func (h *Host) Nop() { runtime.Gosched() }

// WaitForInterrupt parks the caller until the tick clock advances.
func (h *Host) WaitForInterrupt() {
	cur := h.ticks.Load()
	h.mu.Lock()
	for h.ticks.Load() == cur {
		h.cond.Wait()
	}
	h.mu.Unlock()
}

// YieldRequest delivers the context-switch interrupt immediately.
func (h *Host) YieldRequest() {
	if h.handler != nil {
		h.handler()
	}
}

// InstallSwitchHandler wires the kernel's reschedule entry point.
func (h *Host) InstallSwitchHandler(fn func()) { h.handler = fn }

// InitStack builds a goroutine-backed context. The stack region itself is
// unused for execution on the hosted port; the kernel still owns it for
// canary auditing and accounting.
func (h *Host) InitStack(_ []byte, entry func(any), arg any, exit func()) kern.Context {
	return &taskContext{
		entry:  entry,
		arg:    arg,
		exit:   exit,
		resume: make(chan struct{}, 1),
	}
}

// Switch resumes next and parks the caller (prev's goroutine). A nil prev —
// boot — returns immediately after the wake. A retired prev ends its
// goroutine here.
func (h *Host) Switch(prev, next kern.Context) {
	n := next.(*taskContext)
	if !n.started {
		n.started = true
		go n.run()
	}
	n.resume <- struct{}{}

	if prev == nil {
		return
	}
	p := prev.(*taskContext)
	if p.retired {
		runtime.Goexit()
	}
	<-p.resume
}

// Retire marks a context as exited; the next Switch away from it ends its
// goroutine instead of parking.
func (h *Host) Retire(ctx kern.Context) {
	if c, ok := ctx.(*taskContext); ok {
		c.retired = true
	}
}

// Reset has nothing real to reset on a hosted target.
func (h *Host) Reset() {
	panic("hostport: reset")
}

// --- kern.Platform ---

// Ticks returns the current tick count.
func (h *Host) Ticks() uint64 { return h.ticks.Load() }

// AdvanceTicks moves the clock forward and wakes any idling CPU. The caller
// is the "timer interrupt": it should follow up with Kernel.Tick.
func (h *Host) AdvanceTicks(n uint64) {
	h.ticks.Add(n)
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Idle parks the CPU until the next tick, like a wait-for-interrupt.
func (h *Host) Idle() { h.WaitForInterrupt() }

// Panic stops the world.
func (h *Host) Panic(msg string) {
	panic(msg)
}

// CPUFreq returns the simulated CPU frequency in Hz.
func (h *Host) CPUFreq() uint64 { return h.freq }
