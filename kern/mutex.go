package kern

// Mutex is an ownership lock with priority inheritance: a contending waiter
// of higher weight boosts the owner to match, and unlock restores the
// owner's base weight before handing the mutex directly to the head waiter.
// The same task may re-lock a mutex it holds without blocking.
type Mutex struct {
	k    *Kernel
	lock SpinLock

	owner   *Task
	waiters waitList
}

// NewMutex creates an unowned mutex.
func (k *Kernel) NewMutex() *Mutex {
	return &Mutex{k: k, lock: SpinLock{port: k.port}}
}

// Lock acquires the mutex, blocking while another task owns it. If the
// caller already owns it the call returns immediately.
func (m *Mutex) Lock() {
	for {
		m.lock.Lock()
		cur := m.k.currentTask()
		if cur == nil {
			m.lock.Unlock()
			return
		}
		if m.owner == cur {
			m.lock.Unlock()
			return
		}
		if m.owner == nil {
			m.owner = cur
			m.lock.Unlock()
			return
		}
		// Lend the contender's weight to the owner so it cannot be starved
		// below us while holding the lock.
		if cur.weight > m.owner.weight {
			m.k.boostWeight(m.owner, cur.weight)
		}
		m.waiters.push(&cur.wnode)
		cur.waitingOn = m
		m.k.blockCurrent()
		m.lock.Unlock()
		m.k.Yield()
	}
}

// Unlock releases the mutex. A call by a non-owner is ignored (and logged,
// rate limited). The owner's base weight is restored, and ownership hands
// off directly to the longest-waiting task, re-boosted if still-heavier
// waiters remain behind it.
func (m *Mutex) Unlock() {
	m.lock.Lock()
	cur := m.k.currentTask()
	if m.owner != cur {
		m.lock.Unlock()
		if m.k.warn.allow(warnMutexOwner) {
			m.k.log.Warning().Log("mutex unlock by non-owner ignored")
		}
		return
	}
	m.k.restoreBaseWeight(cur)
	next := m.popRunnableWaiter()
	if next == nil {
		m.owner = nil
		m.lock.Unlock()
		return
	}
	m.owner = next
	if h := m.waiters.maxWeight(); h > next.weight {
		m.k.boostWeight(next, h)
	}
	m.k.unblockTask(next)
	m.lock.Unlock()
}

// Owner returns the id of the owning task, or 0 when unowned.
func (m *Mutex) Owner() TaskID {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.owner == nil {
		return 0
	}
	return m.owner.id
}

// popRunnableWaiter pops waiters until it finds one still blocked, skipping
// tasks deleted while queued. Caller holds the mutex lock.
func (m *Mutex) popRunnableWaiter() *Task {
	for {
		t := m.waiters.pop()
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
func (m *Mutex) removeWaiter(t *Task) {
	m.lock.Lock()
	if t.waitingOn == m {
		m.waiters.remove(&t.wnode)
		t.waitingOn = nil
	}
	m.lock.Unlock()
}
