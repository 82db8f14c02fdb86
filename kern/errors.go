package kern

import "errors"

// Standard errors. Every recoverable failure is a return value; the only
// panics are boot-time heap failure, failure to create an idle task, an exit
// attempted by the idle task, self-stack corruption, and an empty ready set
// with no idle task, all of which route through Platform.Panic.
var (
	// ErrInvalidArgument is returned for nil entries, zero sizes, and other
	// malformed requests.
	ErrInvalidArgument = errors.New("kern: invalid argument")

	// ErrNoMemory is returned when the heap cannot satisfy an allocation,
	// after a garbage-collection retry where one applies.
	ErrNoMemory = errors.New("kern: out of memory")

	// ErrNoTaskSlot is returned by task creation when every slot in the
	// task table is live.
	ErrNoTaskSlot = errors.New("kern: no free task slot")

	// ErrNoTaskID is returned when the id bitmap is exhausted.
	ErrNoTaskID = errors.New("kern: no free task id")

	// ErrNoSuchTask is returned when an id does not name a live task.
	ErrNoSuchTask = errors.New("kern: no such task")

	// ErrIdleTask is returned for operations that may not target the idle
	// task, such as deleting it.
	ErrIdleTask = errors.New("kern: operation not permitted on idle task")

	// ErrDeleted is observed by waiters blocked on an IPC object that was
	// deleted out from under them.
	ErrDeleted = errors.New("kern: object deleted")

	// ErrTimeout is returned by waits that expired before their condition
	// was satisfied.
	ErrTimeout = errors.New("kern: timed out")

	// ErrQueueFull and ErrQueueEmpty are the non-blocking queue outcomes.
	ErrQueueFull  = errors.New("kern: queue full")
	ErrQueueEmpty = errors.New("kern: queue empty")

	// ErrNotStarted is returned by operations that need a running scheduler.
	ErrNotStarted = errors.New("kern: scheduler not started")
)
