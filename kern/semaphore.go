package kern

// Semaphore is a counting semaphore with an optional cap. Signal hands the
// token directly to the longest-waiting task when one is blocked — the
// count stays at zero across the handoff — and otherwise increments up to
// the cap.
type Semaphore struct {
	k    *Kernel
	lock SpinLock

	count    uint32
	maxCount uint32

	waiters waitList
}

// NewSemaphore creates a semaphore with the given initial count and cap.
// A cap of 0 means unbounded.
func (k *Kernel) NewSemaphore(initial, max uint32) (*Semaphore, error) {
	if max != 0 && initial > max {
		return nil, ErrInvalidArgument
	}
	return &Semaphore{
		k:        k,
		lock:     SpinLock{port: k.port},
		count:    initial,
		maxCount: max,
	}, nil
}

// Wait takes one token, blocking while none are available.
func (s *Semaphore) Wait() {
	for {
		s.lock.Lock()
		cur := s.k.currentTask()
		if cur != nil && cur.wnode.granted {
			// Token handed off directly by Signal.
			cur.wnode.granted = false
			s.lock.Unlock()
			return
		}
		if s.count > 0 {
			s.count--
			if cur != nil {
				s.waiters.remove(&cur.wnode)
				cur.waitingOn = nil
			}
			s.lock.Unlock()
			return
		}
		if cur == nil {
			s.lock.Unlock()
			return
		}
		s.waiters.push(&cur.wnode)
		cur.waitingOn = s
		s.k.blockCurrent()
		s.lock.Unlock()
		s.k.Yield()
	}
}

// TryWait takes a token only if one is immediately available.
func (s *Semaphore) TryWait() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Signal releases one token: the head waiter receives it directly, or the
// count increments up to the cap.
func (s *Semaphore) Signal() {
	s.lock.Lock()
	if t := s.popBlockedWaiter(); t != nil {
		t.wnode.granted = true
		s.k.unblockTask(t)
		s.lock.Unlock()
		return
	}
	if s.maxCount == 0 || s.count < s.maxCount {
		s.count++
	}
	s.lock.Unlock()
}

// Broadcast wakes every waiter, granting each a token directly. The count
// is left unchanged.
func (s *Semaphore) Broadcast() {
	s.lock.Lock()
	for {
		t := s.popBlockedWaiter()
		if t == nil {
			break
		}
		t.wnode.granted = true
		s.k.unblockTask(t)
	}
	s.lock.Unlock()
}

// Count returns the current token count.
func (s *Semaphore) Count() uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.count
}

func (s *Semaphore) popBlockedWaiter() *Task {
	for {
		t := s.waiters.pop()
		if t == nil {
			return nil
		}
		t.waitingOn = nil
		if t.state == StateBlocked {
			return t
		}
	}
}

// removeWaiter implements waitable for task deletion.
func (s *Semaphore) removeWaiter(t *Task) {
	s.lock.Lock()
	if t.waitingOn == s {
		s.waiters.remove(&t.wnode)
		t.waitingOn = nil
	}
	s.lock.Unlock()
}
