package kern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexUncontended(t *testing.T) {
	k, _, _ := newStartedKernel(t)
	m := k.NewMutex()
	tk := mustCreate(t, k, WeightNormal)
	forceRun(k, tk)

	m.Lock()
	assert.Equal(t, tk.id, m.Owner())
	m.Unlock()
	assert.Equal(t, TaskID(0), m.Owner())
}

func TestMutexRecursiveLockByOwner(t *testing.T) {
	k, port, _ := newStartedKernel(t)
	m := k.NewMutex()
	tk := mustCreate(t, k, WeightNormal)
	forceRun(k, tk)

	m.Lock()
	m.Lock() // held recursively by the same task, no blocking
	assert.Equal(t, tk.id, m.Owner())
	assert.Zero(t, port.yields)
	m.Unlock()
}

func TestMutexUnlockByNonOwnerIgnored(t *testing.T) {
	k, _, _ := newStartedKernel(t)
	m := k.NewMutex()
	owner := mustCreate(t, k, WeightNormal)
	other := mustCreate(t, k, WeightNormal)

	forceRun(k, owner)
	m.Lock()
	forceRun(k, other)
	m.Unlock() // silently ignored
	assert.Equal(t, owner.id, m.Owner())
}

func TestMutexPriorityInheritance(t *testing.T) {
	// Scenario: low-weight owner, high-weight contender. The owner's
	// weight boosts to the contender's while the lock is held and snaps
	// back to base on unlock; ownership hands off to the contender.
	k, port, _ := newStartedKernel(t)
	m := k.NewMutex()
	low := mustCreate(t, k, 1)
	high := mustCreate(t, k, 8)

	forceRun(k, low)
	m.Lock()
	require.Equal(t, low.id, m.Owner())

	forceRun(k, high)
	port.onYield = func() {
		// The contender has boosted the owner and gone to sleep; let the
		// owner run and release.
		assert.Equal(t, uint8(8), low.weight, "owner boosted to waiter weight")
		assert.Equal(t, uint8(1), low.baseWeight)
		require.Equal(t, StateBlocked, high.state)

		forceRun(k, low)
		m.Unlock()
		assert.Equal(t, uint8(1), low.weight, "weight restored on unlock")
		assert.Equal(t, high.id, m.Owner(), "direct handoff to head waiter")
		assert.Equal(t, StateReady, high.state)
		forceRun(k, high)
	}
	m.Lock() // as high: blocks, then returns owning the mutex

	assert.Equal(t, high.id, m.Owner())
	assert.Nil(t, high.waitingOn)
	m.Unlock()
}

func TestMutexHandoffBoostsFromRemainingWaiters(t *testing.T) {
	k, _, _ := newStartedKernel(t)
	m := k.NewMutex()
	owner := mustCreate(t, k, 1)
	mid := mustCreate(t, k, 3)
	heavy := mustCreate(t, k, 8)

	forceRun(k, owner)
	m.Lock()

	// Queue two waiters by hand: mid arrived first, heavy second.
	m.lock.Lock()
	m.waiters.push(&mid.wnode)
	mid.waitingOn = m
	m.waiters.push(&heavy.wnode)
	heavy.waitingOn = m
	m.lock.Unlock()
	forceRun(k, mid)
	k.blockCurrent()
	forceRun(k, heavy)
	k.blockCurrent()

	forceRun(k, owner)
	m.Unlock()

	// FIFO handoff goes to mid, but the still-heavier waiter behind it
	// boosts the new owner.
	assert.Equal(t, mid.id, m.Owner())
	assert.Equal(t, uint8(8), mid.weight)
	assert.Equal(t, uint8(3), mid.baseWeight)
	assert.Equal(t, StateReady, mid.state)
	assert.Equal(t, StateBlocked, heavy.state)
}

func TestMutexWaiterFIFO(t *testing.T) {
	k, _, _ := newStartedKernel(t)
	m := k.NewMutex()
	owner := mustCreate(t, k, WeightNormal)
	first := mustCreate(t, k, WeightNormal)
	second := mustCreate(t, k, WeightNormal)

	forceRun(k, owner)
	m.Lock()

	m.lock.Lock()
	m.waiters.push(&first.wnode)
	first.waitingOn = m
	m.waiters.push(&second.wnode)
	second.waitingOn = m
	m.lock.Unlock()
	forceRun(k, first)
	k.blockCurrent()
	forceRun(k, second)
	k.blockCurrent()

	forceRun(k, owner)
	m.Unlock()
	assert.Equal(t, first.id, m.Owner(), "longest-waiting task first")
}
