package kern

import "github.com/sabarioded/sortos/tlsf"

// Queue is a bounded copy-by-value FIFO of fixed-size elements over a ring
// buffer allocated from the kernel heap. Blocking endpoints park on
// intrusive waiter lists and are woken in FIFO order; the *FromISR variants
// never block or yield.
type Queue struct {
	k    *Kernel
	lock SpinLock

	ring tlsf.Ptr
	buf  []byte

	itemSize int
	capacity int
	count    int
	head     int // next pop index
	tail     int // next push index

	rxWait waitList // tasks blocked in Pop on an empty queue
	txWait waitList // tasks blocked in Push on a full queue

	// onPush runs after every successful push, outside the queue lock. UART
	// TX queues use it to kick the transmitter interrupt.
	onPush func()

	deleted bool
}

// QueueOption configures a queue at creation.
type QueueOption interface {
	applyQueue(*Queue)
}

type queueOptionImpl struct {
	applyFunc func(*Queue)
}

func (o *queueOptionImpl) applyQueue(q *Queue) { o.applyFunc(q) }

// WithPushCallback runs fn after every successful push, outside the queue
// lock.
func WithPushCallback(fn func()) QueueOption {
	return &queueOptionImpl{func(q *Queue) { q.onPush = fn }}
}

// NewQueue allocates a queue of capacity fixed-size items. The ring buffer
// comes from the kernel heap.
func (k *Kernel) NewQueue(itemSize, capacity int, opts ...QueueOption) (*Queue, error) {
	if itemSize <= 0 || capacity <= 0 {
		return nil, ErrInvalidArgument
	}
	ring := k.heap.Alloc(itemSize * capacity)
	if ring == 0 {
		return nil, ErrNoMemory
	}
	q := &Queue{
		k:        k,
		lock:     SpinLock{port: k.port},
		ring:     ring,
		buf:      k.heap.Payload(ring)[:itemSize*capacity],
		itemSize: itemSize,
		capacity: capacity,
	}
	for _, o := range opts {
		if o != nil {
			o.applyQueue(q)
		}
	}
	return q, nil
}

// Delete wakes every waiter so it can observe the deleted outcome, then
// frees the ring buffer.
func (q *Queue) Delete() {
	q.lock.Lock()
	q.deleted = true
	q.wakeAllLocked(&q.rxWait)
	q.wakeAllLocked(&q.txWait)
	ring := q.ring
	q.ring = 0
	q.buf = nil
	q.lock.Unlock()
	q.k.heap.Free(ring)
}

// Capacity returns the queue's element capacity.
func (q *Queue) Capacity() int { return q.capacity }

// Len returns the current element count.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.count
}

func (q *Queue) wakeAllLocked(l *waitList) {
	for {
		t := l.pop()
		if t == nil {
			return
		}
		t.waitingOn = nil
		q.k.unblockTask(t)
	}
}

// wakeOneLocked pops the longest-waiting opposite-endpoint task and readies
// it, inside the same critical section as the state change so the wakeup
// cannot be lost.
func (q *Queue) wakeOneLocked(l *waitList) {
	if t := l.pop(); t != nil {
		t.waitingOn = nil
		q.k.unblockTask(t)
	}
}

func (q *Queue) copyIn(item []byte) {
	off := q.tail * q.itemSize
	copy(q.buf[off:off+q.itemSize], item)
	// Publish the element before the index moves, producer side.
	q.k.port.Barrier()
	q.tail = (q.tail + 1) % q.capacity
	q.count++
}

func (q *Queue) copyOut(item []byte) {
	off := q.head * q.itemSize
	// Pair with the producer barrier before reading the element.
	q.k.port.Barrier()
	copy(item, q.buf[off:off+q.itemSize])
	q.head = (q.head + 1) % q.capacity
	q.count--
}

// Push copies item into the queue, blocking while it is full. Returns
// ErrDeleted if the queue is deleted while waiting.
func (q *Queue) Push(item []byte) error {
	if len(item) != q.itemSize {
		return ErrInvalidArgument
	}
	for {
		q.lock.Lock()
		if q.deleted {
			q.lock.Unlock()
			return ErrDeleted
		}
		cur := q.k.currentTask()
		if q.count < q.capacity {
			if cur != nil {
				q.txWait.remove(&cur.wnode)
				cur.waitingOn = nil
			}
			q.copyIn(item)
			q.wakeOneLocked(&q.rxWait)
			q.lock.Unlock()
			if q.onPush != nil {
				q.onPush()
			}
			return nil
		}
		if cur == nil {
			q.lock.Unlock()
			return ErrQueueFull
		}
		q.txWait.push(&cur.wnode)
		cur.waitingOn = q
		q.k.blockCurrent()
		q.lock.Unlock()
		q.k.Yield()
	}
}

// Pop copies the oldest element out, blocking while the queue is empty.
func (q *Queue) Pop(item []byte) error {
	if len(item) != q.itemSize {
		return ErrInvalidArgument
	}
	for {
		q.lock.Lock()
		if q.deleted {
			q.lock.Unlock()
			return ErrDeleted
		}
		cur := q.k.currentTask()
		if q.count > 0 {
			if cur != nil {
				q.rxWait.remove(&cur.wnode)
				cur.waitingOn = nil
			}
			q.copyOut(item)
			q.wakeOneLocked(&q.txWait)
			q.lock.Unlock()
			return nil
		}
		if cur == nil {
			q.lock.Unlock()
			return ErrQueueEmpty
		}
		q.rxWait.push(&cur.wnode)
		cur.waitingOn = q
		q.k.blockCurrent()
		q.lock.Unlock()
		q.k.Yield()
	}
}

// PushFromISR copies item in without ever blocking or yielding. On success
// one blocked receiver is readied and the push callback runs.
func (q *Queue) PushFromISR(item []byte) error {
	if len(item) != q.itemSize {
		return ErrInvalidArgument
	}
	q.lock.Lock()
	if q.deleted {
		q.lock.Unlock()
		return ErrDeleted
	}
	if q.count >= q.capacity {
		q.lock.Unlock()
		if q.k.warn.allow(warnISRQueue) {
			q.k.log.Warning().Int("capacity", q.capacity).Log("queue push from isr dropped, queue full")
		}
		return ErrQueueFull
	}
	q.copyIn(item)
	q.wakeOneLocked(&q.rxWait)
	q.lock.Unlock()
	if q.onPush != nil {
		q.onPush()
	}
	return nil
}

// PopFromISR copies the oldest element out without blocking. On success one
// blocked sender is readied.
func (q *Queue) PopFromISR(item []byte) error {
	if len(item) != q.itemSize {
		return ErrInvalidArgument
	}
	q.lock.Lock()
	if q.deleted {
		q.lock.Unlock()
		return ErrDeleted
	}
	if q.count == 0 {
		q.lock.Unlock()
		return ErrQueueEmpty
	}
	q.copyOut(item)
	q.wakeOneLocked(&q.txWait)
	q.lock.Unlock()
	return nil
}

// Peek copies the oldest element without removing it.
func (q *Queue) Peek(item []byte) error {
	if len(item) != q.itemSize {
		return ErrInvalidArgument
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.deleted {
		return ErrDeleted
	}
	if q.count == 0 {
		return ErrQueueEmpty
	}
	off := q.head * q.itemSize
	copy(item, q.buf[off:off+q.itemSize])
	return nil
}

// Reset discards every element. Blocked senders wake — the queue is now
// trivially not full — while receivers keep waiting.
func (q *Queue) Reset() {
	q.lock.Lock()
	q.count = 0
	q.head = 0
	q.tail = 0
	q.wakeAllLocked(&q.txWait)
	q.lock.Unlock()
}

// removeWaiter implements waitable for task deletion.
func (q *Queue) removeWaiter(t *Task) {
	q.lock.Lock()
	if t.waitingOn == q {
		q.rxWait.remove(&t.wnode)
		q.txWait.remove(&t.wnode)
		t.waitingOn = nil
	}
	q.lock.Unlock()
}
