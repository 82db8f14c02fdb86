package kern

// Software timer service: a daemon task owns a singly linked list of timers
// sorted by expiry. The next action is always the list head, so the daemon
// sleeps in a notification wait with a timeout equal to the delay to the
// head, and any mutation that changes the head notifies it to re-evaluate.

const timerDaemonNotifyBit = 1

// Timer is a one-shot or periodic software timer. Callbacks run in the
// daemon task's context, outside the service lock, so they may use blocking
// kernel services (carefully).
type Timer struct {
	k  *Kernel
	fn func(*Timer)

	period   uint64 // delay for one-shot, interval for periodic
	expiry   uint64 // absolute tick, meaningful while active
	periodic bool
	active   bool
	next     *Timer
}

type timerService struct {
	lock   SpinLock
	head   *Timer
	daemon TaskID
}

// StartTimerService creates the timer daemon task. Must be called after
// Start; idempotent on success.
func (k *Kernel) StartTimerService() error {
	if !k.started {
		return ErrNotStarted
	}
	k.tsvc.lock.Lock()
	if k.tsvc.daemon != 0 {
		k.tsvc.lock.Unlock()
		return nil
	}
	k.tsvc.lock.Unlock()

	id, err := k.TaskCreate(k.timerDaemon, nil, timerStackSize, WeightHigh)
	if err != nil {
		return err
	}
	k.tsvc.lock.Lock()
	k.tsvc.daemon = id
	k.tsvc.lock.Unlock()
	return nil
}

// NewTimer creates an inactive timer. period is in ticks and must be
// positive; fn runs in the daemon task each time the timer fires.
func (k *Kernel) NewTimer(period uint64, periodic bool, fn func(*Timer)) (*Timer, error) {
	if period == 0 || fn == nil {
		return nil, ErrInvalidArgument
	}
	return &Timer{k: k, fn: fn, period: period, periodic: periodic}, nil
}

// Start arms the timer to fire period ticks from now. Restarting an active
// timer re-arms it from the current tick.
func (t *Timer) Start() error {
	svc := &t.k.tsvc
	svc.lock.Lock()
	if svc.daemon == 0 {
		svc.lock.Unlock()
		return ErrNotStarted
	}
	svc.unlinkLocked(t)
	t.expiry = t.k.plat.Ticks() + t.period
	t.active = true
	headChanged := svc.insertLocked(t)
	daemon := svc.daemon
	svc.lock.Unlock()
	if headChanged {
		_ = t.k.TaskNotify(daemon, timerDaemonNotifyBit)
	}
	return nil
}

// Stop disarms the timer. Stopping an inactive timer is a no-op.
func (t *Timer) Stop() {
	svc := &t.k.tsvc
	svc.lock.Lock()
	wasHead := svc.head == t
	svc.unlinkLocked(t)
	t.active = false
	daemon := svc.daemon
	svc.lock.Unlock()
	if wasHead && daemon != 0 {
		_ = t.k.TaskNotify(daemon, timerDaemonNotifyBit)
	}
}

// ChangePeriod updates the period and re-arms an active timer with it.
func (t *Timer) ChangePeriod(period uint64) error {
	if period == 0 {
		return ErrInvalidArgument
	}
	svc := &t.k.tsvc
	svc.lock.Lock()
	active := t.active
	t.period = period
	svc.lock.Unlock()
	if active {
		return t.Start()
	}
	return nil
}

// Active reports whether the timer is armed.
func (t *Timer) Active() bool {
	t.k.tsvc.lock.Lock()
	defer t.k.tsvc.lock.Unlock()
	return t.active
}

// insertLocked threads t into the expiry-sorted list and reports whether it
// became the new head.
func (s *timerService) insertLocked(t *Timer) bool {
	if s.head == nil || int64(t.expiry-s.head.expiry) < 0 {
		t.next = s.head
		s.head = t
		return true
	}
	cur := s.head
	for cur.next != nil && int64(cur.next.expiry-t.expiry) <= 0 {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
	return false
}

func (s *timerService) unlinkLocked(t *Timer) {
	if s.head == nil {
		return
	}
	if s.head == t {
		s.head = t.next
		t.next = nil
		return
	}
	for cur := s.head; cur.next != nil; cur = cur.next {
		if cur.next == t {
			cur.next = t.next
			t.next = nil
			return
		}
	}
}

// timerDaemon alternates a timer pass with a notification wait bounded by
// the delay to the new list head; a head-changing mutation notifies it to
// re-evaluate early.
func (k *Kernel) timerDaemon(any) {
	for {
		delay := k.timerPass()
		k.TaskNotifyWait(true, delay)
	}
}

// timerPass runs every expired callback outside the critical section,
// re-inserts auto-reloading timers, and returns the delay in ticks to the
// next expiry (0 when the list is empty, meaning wait forever).
func (k *Kernel) timerPass() uint64 {
	svc := &k.tsvc
	now := k.plat.Ticks()

	var fired *Timer
	svc.lock.Lock()
	for svc.head != nil && int64(now-svc.head.expiry) >= 0 {
		t := svc.head
		svc.head = t.next
		t.next = fired
		fired = t
		if !t.periodic {
			t.active = false
		}
	}
	svc.lock.Unlock()

	// fired is LIFO; reverse to run callbacks in expiry order.
	var run *Timer
	for fired != nil {
		next := fired.next
		fired.next = run
		run = fired
		fired = next
	}
	for run != nil {
		t := run
		run = run.next
		t.next = nil
		t.fn(t)
		if t.periodic {
			svc.lock.Lock()
			if t.active {
				t.expiry = now + t.period
				svc.insertLocked(t)
			}
			svc.lock.Unlock()
		}
	}

	var delay uint64
	svc.lock.Lock()
	if svc.head != nil {
		now = k.plat.Ticks()
		if int64(svc.head.expiry-now) > 0 {
			delay = svc.head.expiry - now
		} else {
			delay = 1
		}
	}
	svc.lock.Unlock()
	return delay
}
