// Package kern is a small preemptive real-time kernel, rendered as a hosted
// simulation: a weighted-fair task scheduler with per-CPU ready queues, a
// TLSF-backed dynamic memory pool, and the IPC primitives built on top of
// them (bounded queues, mutexes with priority inheritance, counting
// semaphores, event-bit groups, and a software timer service).
//
// Tasks are units of scheduling with their own stack region and an opaque
// execution context supplied by an architecture [Port]. On hosted targets
// the context is a parked goroutine and a context switch is a channel
// handoff; the kernel itself never assumes more than the Port contract:
// interrupt mask save/restore, an atomic test-and-set, a yield request that
// drives the switch handler, and stack-frame construction.
//
// Scheduling is fair by virtual runtime: every runnable task accrues
// vruntime inversely proportional to its weight, and each CPU runs the task
// with the smallest vruntime from its ready min-heap. Blocking primitives
// park tasks on intrusive FIFO waiter lists and re-enter the scheduler
// through a state change plus a yield; on resumption the caller re-runs its
// double-check loop.
//
// The kernel is memory-resident and persists nothing.
package kern
