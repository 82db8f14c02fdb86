package kern

// Task notifications: a 32-bit OR-accumulator plus a pending flag per task,
// the lightest-weight wakeup the kernel has. Notifications accumulate —
// two notifies before a wait deliver the union.

// TaskNotify ORs bits into the target task's notification value, marks it
// pending, and unblocks the target if it was blocked or sleeping.
func (k *Kernel) TaskNotify(id TaskID, bits uint32) error {
	t := k.lookup(id)
	if t == nil {
		return ErrNoSuchTask
	}
	c := &k.cpus[t.cpu]
	c.lock.Lock()
	t.notifyValue |= bits
	t.notifyPending = true
	if t.state == StateBlocked || t.state == StateSleeping {
		k.unblockLocked(c, t)
	}
	c.lock.Unlock()
	return nil
}

// TaskNotifyWait returns the current task's accumulated notification bits.
// If none are pending it blocks, with an optional timeout in ticks
// (0 waits forever). The second return is false on timeout. When clear is
// set, the accumulator resets on consumption.
func (k *Kernel) TaskNotifyWait(clear bool, timeout uint64) (uint32, bool) {
	c := &k.cpus[k.port.CPUID()]
	armed := false
	for {
		c.lock.Lock()
		cur := c.current
		if cur == nil || cur.idle {
			c.lock.Unlock()
			return 0, false
		}
		if cur.notifyPending {
			v := cur.notifyValue
			cur.notifyPending = false
			if clear {
				cur.notifyValue = 0
			}
			c.lock.Unlock()
			return v, true
		}
		if armed {
			// Woken by timeout expiry rather than a notify.
			c.lock.Unlock()
			return 0, false
		}
		if timeout > 0 {
			sleepRemove(c, cur)
			cur.sleepUntil = k.plat.Ticks() + timeout
			cur.state = StateSleeping
			sleepInsert(c, cur)
			armed = true
		} else {
			cur.state = StateBlocked
		}
		c.lock.Unlock()
		k.Yield()
	}
}
