package kern

// Context is an opaque architecture execution context for one task: on a
// bare-metal port it would be the saved stack pointer, on the hosted port it
// is a parked goroutine. The kernel only ever stores it and passes it back
// to Port.Switch.
type Context any

// Port is the architecture layer the kernel is written against. It has no
// scheduler knowledge; the kernel installs its reschedule entry point as the
// switch handler at construction, which stands in for wiring the supervisor
// software-interrupt vector.
//
// IRQSave/IRQRestore pairs nest: each IRQSave returns the prior mask and the
// matching IRQRestore reinstates it.
type Port interface {
	// CPUID returns the index of the CPU the caller is executing on.
	CPUID() int

	// IRQSave masks interrupts at the kernel's critical-section priority and
	// returns the prior mask.
	IRQSave() uint32

	// IRQRestore reinstates a mask previously returned by IRQSave.
	IRQRestore(mask uint32)

	// TestAndSet atomically swaps 1 into v and returns the prior value.
	TestAndSet(v *uint32) uint32

	// Barrier issues a full memory barrier.
	Barrier()

	// Nop is a single spin-wait pause.
	Nop()

	// WaitForInterrupt idles the CPU until the next interrupt (hosted: the
	// next tick signal).
	WaitForInterrupt()

	// YieldRequest schedules the context-switch interrupt. On return the
	// caller holds no CPU-observable side effects beyond an eventually
	// delivered switch; on the hosted port delivery is immediate.
	YieldRequest()

	// InitStack builds the initial execution context for a new task over its
	// stack region. entry(arg) runs when the task is first switched in; exit
	// runs if entry returns.
	InitStack(stack []byte, entry func(arg any), arg any, exit func()) Context

	// Switch suspends prev (which must be the caller's own context, or nil
	// when switching away from boot) and resumes next. A prev that has been
	// retired is never resumed.
	Switch(prev, next Context)

	// InstallSwitchHandler wires fn as the target of YieldRequest.
	InstallSwitchHandler(fn func())

	// Retire marks a context as exited: a Switch away from it must not
	// expect resumption. This is the exit-trampoline hook.
	Retire(ctx Context)

	// Reset restarts the system.
	Reset()
}

// Platform is the board layer: time, idling, and last-resort failure.
type Platform interface {
	// Ticks returns the current system tick count.
	Ticks() uint64

	// Idle parks the CPU between useful work; called only by the idle task.
	Idle()

	// Panic stops the world visibly. It must not return.
	Panic(msg string)

	// CPUFreq returns the CPU frequency in Hz.
	CPUFreq() uint64
}
