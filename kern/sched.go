package kern

import (
	"container/heap"

	"github.com/sabarioded/sortos/tlsf"
)

func heapPush(h *readyHeap, t *Task) { heap.Push(h, t) }

func heapPopMin(h *readyHeap) *Task {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Task)
}

func heapRemove(h *readyHeap, t *Task) {
	if t.heapIndex >= 0 {
		heap.Remove(h, t.heapIndex)
	}
}

// sleepInsert threads t into the CPU's sleep list, kept sorted ascending by
// wake tick so the tick handler peels expired entries from the head.
func sleepInsert(c *cpuRun, t *Task) {
	if c.sleep == nil || int64(t.sleepUntil-c.sleep.sleepUntil) < 0 {
		t.next = c.sleep
		c.sleep = t
		return
	}
	cur := c.sleep
	for cur.next != nil && int64(cur.next.sleepUntil-t.sleepUntil) <= 0 {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

// sleepRemove unlinks t from the sleep list if present.
func sleepRemove(c *cpuRun, t *Task) {
	if c.sleep == nil {
		return
	}
	if c.sleep == t {
		c.sleep = t.next
		t.next = nil
		return
	}
	for cur := c.sleep; cur.next != nil; cur = cur.next {
		if cur.next == t {
			cur.next = t.next
			t.next = nil
			return
		}
	}
}

// makeReadyLocked transitions t to Ready and enqueues it, clamping its
// vruntime up to the CPU's current minimum so a task that slept long does
// not monopolize the CPU on wake. Caller holds the CPU lock.
func (k *Kernel) makeReadyLocked(c *cpuRun, t *Task) {
	var floor uint64
	have := false
	if m := c.ready.min(); m != nil {
		floor, have = m.vruntime, true
	} else if c.current != nil && !c.current.idle {
		floor, have = c.current.vruntime, true
	}
	if have && int64(t.vruntime-floor) < 0 {
		t.vruntime = floor
	}
	t.state = StateReady
	heapPush(&c.ready, t)
}

// Tick is the per-CPU periodic timer interrupt handler. It peels expired
// sleepers into Ready, charges the running task's quantum, and reports
// whether the caller should request a reschedule.
func (k *Kernel) Tick(cpu int) bool {
	now := k.plat.Ticks()
	c := &k.cpus[cpu]
	c.lock.Lock()
	defer c.lock.Unlock()

	for c.sleep != nil && int64(now-c.sleep.sleepUntil) >= 0 {
		t := c.sleep
		c.sleep = t.next
		t.next = nil
		t.sleepUntil = 0
		k.makeReadyLocked(c, t)
	}

	resched := false
	cur := c.current
	if cur != nil && !cur.idle && cur.state == StateRunning {
		if cur.timeSlice > 0 {
			cur.timeSlice--
		}
		if cur.timeSlice == 0 {
			resched = true
		}
	}

	switch {
	case cur == nil || cur.idle || cur.state != StateRunning:
		if c.ready.Len() > 0 {
			resched = true
		}
	case !resched:
		if m := c.ready.min(); m != nil && int64(m.vruntime-cur.vruntime) < 0 {
			resched = true
		}
	}
	return resched
}

// Reschedule is the context-switch entry point, installed as the port's
// switch handler. It charges the outgoing task, reinserts it if still
// runnable, selects the ready minimum (idle when the heap is empty), and
// switches contexts.
func (k *Kernel) Reschedule() {
	if !k.started {
		return
	}
	cpu := k.port.CPUID()
	c := &k.cpus[cpu]
	c.lock.Lock()

	prev := c.current
	if prev != nil && prev.state == StateRunning {
		if prev.idle {
			prev.state = StateReady
		} else {
			// Free yields still pay for at least one tick so they cannot
			// starve the rest of the heap.
			ran := int64(prev.sliceMax) - int64(prev.timeSlice)
			if ran < 1 {
				ran = 1
			}
			prev.vruntime += uint64(ran) * VruntimeScaler / uint64(prev.weight)
			prev.timeSlice = uint32(prev.weight) * BaseSliceTicks
			prev.sliceMax = prev.timeSlice
			prev.state = StateReady
			heapPush(&c.ready, prev)
		}
	}

	next := heapPopMin(&c.ready)
	if next == nil {
		next = c.idle
	}
	if next == nil {
		c.lock.Unlock()
		k.plat.Panic("kern: empty ready heap and no idle task")
		return
	}
	next.state = StateRunning
	c.current = next
	c.lock.Unlock()

	if next == prev {
		return
	}
	var prevCtx Context
	if prev != nil {
		prevCtx = prev.ctx
	}
	k.port.Switch(prevCtx, next.ctx)
}

// Yield requests a context switch on the caller's CPU.
func (k *Kernel) Yield() {
	k.port.YieldRequest()
}

// TaskSleepTicks puts the current task to sleep for at least n ticks. Zero
// sleeps degrade to a yield.
func (k *Kernel) TaskSleepTicks(n uint64) {
	if n == 0 {
		k.Yield()
		return
	}
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	cur := c.current
	if cur == nil || cur.idle {
		c.lock.Unlock()
		return
	}
	sleepRemove(c, cur)
	cur.sleepUntil = k.plat.Ticks() + n
	cur.state = StateSleeping
	sleepInsert(c, cur)
	c.lock.Unlock()
	k.Yield()
}

// sleepArmCurrent arms a wait timeout for the current task through the
// sleep list; expiry is delivered by Tick, which makes the task Ready with
// its wait unsatisfied.
func (k *Kernel) sleepArmCurrent(timeout uint64) {
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	cur := c.current
	if cur == nil {
		c.lock.Unlock()
		return
	}
	sleepRemove(c, cur)
	cur.sleepUntil = k.plat.Ticks() + timeout
	cur.state = StateSleeping
	sleepInsert(c, cur)
	c.lock.Unlock()
}

// blockCurrent marks the current task Blocked without yielding. IPC callers
// hold their object lock across this, so the wakeup cannot be lost to a
// preemption race.
func (k *Kernel) blockCurrent() {
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	if c.current != nil && c.current.state == StateRunning {
		c.current.state = StateBlocked
	}
	c.lock.Unlock()
}

// TaskBlockCurrent blocks the current task until another task or interrupt
// unblocks it.
func (k *Kernel) TaskBlockCurrent() {
	k.blockCurrent()
	k.Yield()
}

// unblockLocked returns a blocked or sleeping task to the ready heap.
// Caller holds the CPU lock. Any other state is left alone, which is what
// makes stale wakeups after deletion harmless.
func (k *Kernel) unblockLocked(c *cpuRun, t *Task) {
	switch t.state {
	case StateSleeping:
		sleepRemove(c, t)
		t.sleepUntil = 0
	case StateBlocked:
	default:
		return
	}
	k.makeReadyLocked(c, t)
}

// unblockTask takes the task's CPU lock and unblocks it.
func (k *Kernel) unblockTask(t *Task) {
	c := &k.cpus[t.cpu]
	c.lock.Lock()
	k.unblockLocked(c, t)
	c.lock.Unlock()
}

// TaskUnblock returns a blocked or sleeping task to its CPU's ready heap.
func (k *Kernel) TaskUnblock(id TaskID) error {
	t := k.lookup(id)
	if t == nil {
		return ErrNoSuchTask
	}
	k.unblockTask(t)
	return nil
}

// boostWeight raises t's effective weight for priority inheritance. Heap
// order is not re-evaluated here; the next tick or block event does that.
func (k *Kernel) boostWeight(t *Task, w uint8) {
	c := &k.cpus[t.cpu]
	c.lock.Lock()
	if w > t.weight {
		t.weight = w
	}
	c.lock.Unlock()
}

// restoreBaseWeight snaps t back to its user-assigned weight.
func (k *Kernel) restoreBaseWeight(t *Task) {
	c := &k.cpus[t.cpu]
	c.lock.Lock()
	t.weight = t.baseWeight
	c.lock.Unlock()
}

type taskParams struct {
	entry       func(any)
	arg         any
	stackSize   int
	staticStack []byte
	weight      uint8
	idle        bool
	cpu         int // -1 selects round-robin
}

// TaskCreate creates a task with a heap-allocated stack and enqueues it
// Ready on a round-robin-chosen CPU. Weight 0 normalizes to 1.
func (k *Kernel) TaskCreate(entry func(any), arg any, stackSize int, weight uint8) (TaskID, error) {
	t, err := k.createTask(taskParams{
		entry:     entry,
		arg:       arg,
		stackSize: stackSize,
		weight:    weight,
		cpu:       -1,
	})
	if err != nil {
		return 0, err
	}
	return t.id, nil
}

// TaskCreateStatic creates a task over a caller-owned stack buffer; the
// kernel records that the stack is not heap-owned and will not free it at
// reap.
func (k *Kernel) TaskCreateStatic(entry func(any), arg any, stack []byte, weight uint8) (TaskID, error) {
	if len(stack) < StackMinSize {
		return 0, ErrInvalidArgument
	}
	t, err := k.createTask(taskParams{
		entry:       entry,
		arg:         arg,
		staticStack: stack,
		weight:      weight,
		cpu:         -1,
	})
	if err != nil {
		return 0, err
	}
	return t.id, nil
}

func (k *Kernel) createTask(p taskParams) (*Task, error) {
	if p.entry == nil {
		return nil, ErrInvalidArgument
	}
	w := p.weight
	if w == 0 {
		w = 1
	}

	// Slot and id first, so a stack failure has a slot to roll back.
	k.glock.Lock()
	t := k.freeHead
	if t == nil {
		k.glock.Unlock()
		k.CollectGarbage()
		k.glock.Lock()
		t = k.freeHead
	}
	if t == nil {
		k.glock.Unlock()
		return nil, ErrNoTaskSlot
	}
	k.freeHead = t.next
	t.next = nil
	id, ok := k.allocID()
	if !ok {
		t.next = k.freeHead
		k.freeHead = t
		k.glock.Unlock()
		return nil, ErrNoTaskID
	}
	cpu := p.cpu
	if cpu < 0 {
		cpu = k.nextCPU % len(k.cpus)
		k.nextCPU++
	}
	k.glock.Unlock()

	var (
		stack     []byte
		ptr       tlsf.Ptr
		heapOwned bool
	)
	if p.staticStack != nil {
		stack = p.staticStack
	} else {
		size := p.stackSize
		if size < StackMinSize {
			size = StackMinSize
		}
		if size > StackMaxSize {
			k.rollbackSlot(t, id)
			return nil, ErrInvalidArgument
		}
		size = int(tlsf.AlignUp(uint32(size), uint32(StackAlignment)))
		ptr = k.heap.Alloc(size)
		if ptr == 0 {
			// Retry once after a reap sweep.
			k.CollectGarbage()
			ptr = k.heap.Alloc(size)
		}
		if ptr == 0 {
			k.rollbackSlot(t, id)
			if k.warn.allow(warnOOM) {
				k.log.Warning().Int("stack_size", size).Log("task stack allocation failed")
			}
			return nil, ErrNoMemory
		}
		stack = k.heap.Payload(ptr)[:size]
		heapOwned = true
	}

	t.id = id
	t.cpu = cpu
	t.idle = p.idle
	t.state = StateReady
	t.stackPtr = ptr
	t.stack = stack
	t.stackSize = len(stack)
	t.heapOwned = heapOwned
	t.baseWeight = w
	t.weight = w
	t.vruntime = 0
	t.timeSlice = uint32(w) * BaseSliceTicks
	t.sliceMax = t.timeSlice
	t.heapIndex = -1
	t.wnode = waitNode{task: t}
	t.writeCanary()
	t.ctx = k.port.InitStack(stack, p.entry, p.arg, k.exitTrampoline)

	k.glock.Lock()
	k.liveCount++
	k.glock.Unlock()

	if !p.idle {
		// The idle task never joins a ready heap; it runs only when its
		// CPU has nothing else.
		c := &k.cpus[cpu]
		c.lock.Lock()
		k.makeReadyLocked(c, t)
		c.lock.Unlock()
	}

	k.log.Debug().
		Int("id", int(id)).
		Int("cpu", cpu).
		Int("weight", int(w)).
		Bool("static_stack", !heapOwned).
		Log("task created")
	return t, nil
}

func (k *Kernel) rollbackSlot(t *Task, id TaskID) {
	k.glock.Lock()
	k.releaseID(id)
	t.next = k.freeHead
	k.freeHead = t
	k.glock.Unlock()
}

func (k *Kernel) exitTrampoline() {
	k.TaskExit()
}

// TaskExit terminates the current task: it turns zombie, releases its id,
// and the scheduler never returns to it. The stack is reclaimed later by
// the reaper.
func (k *Kernel) TaskExit() {
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	cur := c.current
	if cur == nil || cur.idle {
		c.lock.Unlock()
		k.plat.Panic("kern: idle task may not exit")
		return
	}
	sleepRemove(c, cur)
	cur.sleepUntil = 0
	cur.state = StateZombie
	c.lock.Unlock()

	k.glock.Lock()
	k.releaseID(cur.id)
	cur.next = k.zombieHead
	k.zombieHead = cur
	k.liveCount--
	k.glock.Unlock()

	k.port.Retire(cur.ctx)
	k.Reschedule()
}

// TaskDelete deletes a task by id. Deleting the current task routes to
// TaskExit; the idle task may not be deleted. The stack is freed later by
// the reaper.
func (k *Kernel) TaskDelete(id TaskID) error {
	if id == 0 {
		return ErrInvalidArgument
	}
	t := k.lookup(id)
	if t == nil {
		return ErrNoSuchTask
	}
	if t.idle {
		return ErrIdleTask
	}

	c := &k.cpus[t.cpu]
	if k.port.CPUID() == t.cpu {
		c.lock.Lock()
		isSelf := c.current == t
		c.lock.Unlock()
		if isSelf {
			k.TaskExit()
			return nil
		}
	}

	if obj := t.waitingOn; obj != nil {
		obj.removeWaiter(t)
	}

	c.lock.Lock()
	switch t.state {
	case StateReady:
		heapRemove(&c.ready, t)
	case StateSleeping:
		sleepRemove(c, t)
		t.sleepUntil = 0
	}
	t.state = StateZombie
	c.lock.Unlock()

	k.glock.Lock()
	k.releaseID(id)
	t.next = k.zombieHead
	k.zombieHead = t
	k.liveCount--
	k.glock.Unlock()
	return nil
}

// CollectGarbage reaps the zombie list: heap-resident stacks return to the
// pool, slots scrub to Unused and rejoin the free list. Run opportunistically
// by the idle task and eagerly when task creation finds no free slot.
func (k *Kernel) CollectGarbage() int {
	k.glock.Lock()
	z := k.zombieHead
	k.zombieHead = nil
	k.glock.Unlock()

	n := 0
	for z != nil {
		next := z.next
		if obj := z.waitingOn; obj != nil {
			obj.removeWaiter(z)
		}
		if z.heapOwned && k.heap.IsPointer(z.stackPtr) {
			k.heap.Free(z.stackPtr)
		}
		z.reset()
		k.glock.Lock()
		z.next = k.freeHead
		k.freeHead = z
		k.glock.Unlock()
		n++
		z = next
	}
	if n > 0 {
		k.log.Debug().Int("reaped", n).Log("zombie tasks reaped")
	}
	return n
}

// AuditStacks scans every live task's stack canary. Corruption in another
// task gets the task summarily deleted; corruption in the caller's own task
// is unrecoverable.
func (k *Kernel) AuditStacks() {
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	self := c.current
	c.lock.Unlock()

	var victims []TaskID
	k.glock.Lock()
	for i := range k.pool {
		t := &k.pool[i]
		if t.state == StateUnused || t.state == StateZombie {
			continue
		}
		if t.canaryIntact() {
			continue
		}
		if t == self {
			k.glock.Unlock()
			k.plat.Panic("kern: stack overflow in running task")
			return
		}
		victims = append(victims, t.id)
	}
	k.glock.Unlock()

	for _, id := range victims {
		if k.warn.allow(warnCanary) {
			k.log.Err().Int("id", int(id)).Log("stack canary corrupted, deleting task")
		}
		_ = k.TaskDelete(id)
	}
}

// idleLoop is the per-CPU idle task: reap zombies, audit stacks on a slow
// cadence, then let the platform idle until the next interrupt.
func (k *Kernel) idleLoop(any) {
	var lastAudit uint64
	for {
		k.CollectGarbage()
		if now := k.plat.Ticks(); now-lastAudit >= GarbageCollectionTicks {
			k.AuditStacks()
			lastAudit = now
		}
		k.plat.Idle()
		k.Yield()
	}
}
