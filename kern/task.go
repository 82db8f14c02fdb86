package kern

import (
	"github.com/sabarioded/sortos/tlsf"
)

// TaskID identifies a live task. Ids are drawn from a process-wide bitmap,
// run 1..MaxTasks, and are released when the task turns zombie; 0 is never a
// live id.
type TaskID uint16

// State is a task's scheduling state. The state uniquely determines where
// the task lives: Ready tasks sit in exactly one per-CPU ready heap,
// Sleeping tasks in exactly one per-CPU sleep list, Blocked tasks in at most
// one waiter list, Zombies on the global zombie list, and Unused slots on
// the global free list.
type State uint8

const (
	StateUnused State = iota
	StateReady
	StateRunning
	StateBlocked
	StateSleeping
	StateZombie
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUnused:
		return "Unused"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateSleeping:
		return "Sleeping"
	case StateZombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// Task is the unit of scheduling. Slots live in the kernel's fixed table;
// pointers to them stay valid for the kernel's lifetime, which is what lets
// the waiter lists and the sleep/free/zombie threading stay intrusive.
type Task struct {
	id    TaskID
	state State
	cpu   int
	idle  bool

	// Stack region. stack[0:4] holds the canary; heapOwned records whether
	// reap should return the region to the pool.
	stackPtr  tlsf.Ptr
	stack     []byte
	stackSize int
	heapOwned bool
	ctx       Context

	// weight never drops below baseWeight; priority inheritance boosts it
	// and unlock snaps it back.
	baseWeight uint8
	weight     uint8

	// Fairness state. vruntime comparisons are wrap-safe signed differences.
	vruntime  uint64
	timeSlice uint32
	sliceMax  uint32
	heapIndex int // index into the per-CPU ready heap, -1 when absent

	// sleepUntil is the absolute wake tick, 0 when not armed. next threads
	// the task into the sleep, free, or zombie list — never more than one.
	sleepUntil uint64
	next       *Task

	// Notification accumulator.
	notifyValue   uint32
	notifyPending bool

	// Event-group wait state.
	evWant      uint32
	evFlags     EventFlags
	evSatisfied bool
	evResult    uint32

	// Embedded wait node for queuing on a mutex, queue, or event group, and
	// the object currently waited on (nil when not blocked on one).
	wnode     waitNode
	waitingOn waitable
}

// ID returns the task's id.
func (t *Task) ID() TaskID { return t.id }

// canaryIntact reports whether the stack sentinel is unharmed.
func (t *Task) canaryIntact() bool {
	if len(t.stack) < 4 {
		return true
	}
	return t.stack[0] == byte(StackCanary&0xff) &&
		t.stack[1] == byte((StackCanary>>8)&0xff) &&
		t.stack[2] == byte((StackCanary>>16)&0xff) &&
		t.stack[3] == byte((StackCanary>>24)&0xff)
}

func (t *Task) writeCanary() {
	t.stack[0] = byte(StackCanary & 0xff)
	t.stack[1] = byte((StackCanary >> 8) & 0xff)
	t.stack[2] = byte((StackCanary >> 16) & 0xff)
	t.stack[3] = byte((StackCanary >> 24) & 0xff)
}

// reset scrubs a slot before it returns to the free list.
func (t *Task) reset() {
	*t = Task{heapIndex: -1}
	t.wnode.task = t
}
