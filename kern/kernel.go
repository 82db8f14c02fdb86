package kern

import (
	"github.com/joeycumines/logiface"

	"github.com/sabarioded/sortos/tlsf"
)

// cpuRun is one CPU's scheduler state: the ready min-heap, the sorted sleep
// list, and the running task. All of it is serialized by the per-CPU lock;
// the tick handler holds that lock only long enough to peel sleepers.
type cpuRun struct {
	lock    SpinLock
	ready   readyHeap
	sleep   *Task // sorted ascending by sleepUntil, threaded via Task.next
	current *Task
	idle    *Task
}

// Kernel is the singleton kernel value: task table, per-CPU schedulers,
// heap, and timer service. Global task-table mutation (create, delete, exit,
// reap) takes the global lock; per-CPU ready/sleep mutation takes that CPU's
// lock; when both are needed the global lock comes first. No lock is ever
// held across a yield.
type Kernel struct {
	port Port
	plat Platform
	heap *tlsf.Pool

	// alock serializes the allocator; it is handed to the pool as its
	// locker so heap and scheduler share one critical-section discipline.
	alock SpinLock

	glock      SpinLock
	pool       []Task
	freeHead   *Task
	zombieHead *Task
	idBitmap   uint64 // bit i set = id i live; ids 1..MaxTasks
	liveCount  int
	nextCPU    int

	cpus []cpuRun

	started bool

	log  *logiface.Logger[logiface.Event]
	warn *warnLimiter

	tsvc timerService
}

// New builds a kernel over the given ports and heap region. The heap must
// hold at least one minimum TLSF block after alignment; an unusably small
// pool is a boot failure and panics via the platform.
func New(port Port, plat Platform, heapMem []byte, opts ...Option) (*Kernel, error) {
	cfg := resolveOptions(opts)

	k := &Kernel{
		port: port,
		plat: plat,
		log:  cfg.logger,
		warn: newWarnLimiter(),
	}
	k.alock = SpinLock{port: port}
	k.glock = SpinLock{port: port}

	pool, err := tlsf.New(heapMem, tlsf.WithLocker(&k.alock))
	if err != nil {
		plat.Panic("kern: heap pool unusable: " + err.Error())
		return nil, err
	}
	k.heap = pool

	k.pool = make([]Task, MaxTasks)
	for i := len(k.pool) - 1; i >= 0; i-- {
		t := &k.pool[i]
		t.reset()
		t.next = k.freeHead
		k.freeHead = t
	}

	k.cpus = make([]cpuRun, cfg.cpus)
	for i := range k.cpus {
		k.cpus[i].lock = SpinLock{port: port}
	}
	k.tsvc.lock = SpinLock{port: port}

	port.InstallSwitchHandler(k.Reschedule)
	return k, nil
}

// Heap exposes the kernel's memory pool. Drivers and applications allocate
// their control blocks and buffers from it.
func (k *Kernel) Heap() *tlsf.Pool { return k.heap }

// NumCPUs returns the configured CPU count.
func (k *Kernel) NumCPUs() int { return len(k.cpus) }

// Start creates the per-CPU idle tasks and dispatches the first task on the
// booting CPU. Failing to create an idle task is unrecoverable.
func (k *Kernel) Start() {
	for cpu := range k.cpus {
		t, err := k.createTask(taskParams{
			entry:     k.idleLoop,
			stackSize: idleStackSize,
			weight:    WeightIdle,
			idle:      true,
			cpu:       cpu,
		})
		if err != nil {
			k.plat.Panic("kern: failed to create idle task: " + err.Error())
			return
		}
		k.cpus[cpu].idle = t
	}
	k.started = true
	k.log.Info().
		Int("cpus", len(k.cpus)).
		Int("heap_bytes", k.heap.TotalSize()).
		Log("scheduler started")
	k.Reschedule()
}

// Started reports whether Start has run.
func (k *Kernel) Started() bool { return k.started }

// Current returns the id of the task running on the caller's CPU, or 0.
func (k *Kernel) Current() TaskID {
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.id
}

// TaskState looks a task up by id.
func (k *Kernel) TaskState(id TaskID) (State, error) {
	t := k.lookup(id)
	if t == nil {
		return StateUnused, ErrNoSuchTask
	}
	return t.state, nil
}

// TaskWeight returns a task's current (possibly boosted) weight.
func (k *Kernel) TaskWeight(id TaskID) (uint8, error) {
	t := k.lookup(id)
	if t == nil {
		return 0, ErrNoSuchTask
	}
	return t.weight, nil
}

// TaskBaseWeight returns a task's user-assigned weight.
func (k *Kernel) TaskBaseWeight(id TaskID) (uint8, error) {
	t := k.lookup(id)
	if t == nil {
		return 0, ErrNoSuchTask
	}
	return t.baseWeight, nil
}

// LiveTasks returns the number of non-unused, non-zombie tasks.
func (k *Kernel) LiveTasks() int {
	k.glock.Lock()
	defer k.glock.Unlock()
	return k.liveCount
}

// lookup scans the task table for a live task by id. Linear, which is fine
// for small MaxTasks.
func (k *Kernel) lookup(id TaskID) *Task {
	if id == 0 {
		return nil
	}
	k.glock.Lock()
	defer k.glock.Unlock()
	for i := range k.pool {
		t := &k.pool[i]
		if t.id == id && t.state != StateUnused && t.state != StateZombie {
			return t
		}
	}
	return nil
}

// currentTask returns the task running on the caller's CPU.
func (k *Kernel) currentTask() *Task {
	c := &k.cpus[k.port.CPUID()]
	c.lock.Lock()
	t := c.current
	c.lock.Unlock()
	return t
}

// allocID draws the lowest free id from the bitmap. Caller holds glock.
func (k *Kernel) allocID() (TaskID, bool) {
	for id := TaskID(1); id <= MaxTasks; id++ {
		if k.idBitmap&(1<<id) == 0 {
			k.idBitmap |= 1 << id
			return id, true
		}
	}
	return 0, false
}

// releaseID frees an id for reissue. Caller holds glock. Ids release at
// zombie time, not at reap.
func (k *Kernel) releaseID(id TaskID) {
	k.idBitmap &^= 1 << id
}
