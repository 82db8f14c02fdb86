package kern

import (
	"sync/atomic"
	"testing"
)

// stubPort is a deterministic Port for white-box scheduler tests: switches
// are recorded rather than performed, and the yield hook lets a test play
// the role of "the rest of the system" at a suspension point.
type stubPort struct {
	cpu      int
	handler  func()
	onYield  func()
	yields   int
	switches int
	retired  int
}

type stubCtx struct {
	entry func(any)
	arg   any
	exit  func()
}

func (p *stubPort) CPUID() int                    { return p.cpu }
func (p *stubPort) IRQSave() uint32               { return 0 }
func (p *stubPort) IRQRestore(uint32)             {}
func (p *stubPort) TestAndSet(v *uint32) uint32   { return atomic.SwapUint32(v, 1) }
func (p *stubPort) Barrier()                      {}
func (p *stubPort) Nop()                          {}
func (p *stubPort) WaitForInterrupt()             {}
func (p *stubPort) InstallSwitchHandler(f func()) { p.handler = f }
func (p *stubPort) Switch(prev, next Context)     { p.switches++ }
func (p *stubPort) Retire(Context)                { p.retired++ }
func (p *stubPort) Reset()                        {}

func (p *stubPort) YieldRequest() {
	p.yields++
	if p.onYield != nil {
		p.onYield()
	}
}

func (p *stubPort) InitStack(_ []byte, entry func(any), arg any, exit func()) Context {
	return &stubCtx{entry: entry, arg: arg, exit: exit}
}

// stubPlat is a manually advanced clock plus a panic recorder.
type stubPlat struct {
	ticks   atomic.Uint64
	panics  []string
	panicFn func(string)
}

func (p *stubPlat) Ticks() uint64   { return p.ticks.Load() }
func (p *stubPlat) Idle()           {}
func (p *stubPlat) CPUFreq() uint64 { return 100_000_000 }

func (p *stubPlat) Panic(msg string) {
	p.panics = append(p.panics, msg)
	if p.panicFn != nil {
		p.panicFn(msg)
	}
}

func (p *stubPlat) advance(n uint64) { p.ticks.Add(n) }

const testHeapSize = 64 * 1024

func newTestKernel(t *testing.T, opts ...Option) (*Kernel, *stubPort, *stubPlat) {
	t.Helper()
	port := &stubPort{}
	plat := &stubPlat{}
	k, err := New(port, plat, make([]byte, testHeapSize), opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return k, port, plat
}

// newStartedKernel also boots the scheduler (idle task, initial dispatch).
func newStartedKernel(t *testing.T, opts ...Option) (*Kernel, *stubPort, *stubPlat) {
	t.Helper()
	k, port, plat := newTestKernel(t, opts...)
	k.Start()
	if len(plat.panics) != 0 {
		t.Fatalf("Start() panicked: %v", plat.panics)
	}
	return k, port, plat
}

func noopEntry(any) {}

// taskByID finds a task slot by id, zombies included.
func taskByID(k *Kernel, id TaskID) *Task {
	for i := range k.pool {
		if k.pool[i].id == id && k.pool[i].state != StateUnused {
			return &k.pool[i]
		}
	}
	return nil
}

// forceRun makes t the running task on its CPU, returning the previous
// runner (if any) to the ready heap. This stands in for the context switch
// the stub port does not perform.
func forceRun(k *Kernel, t *Task) {
	c := &k.cpus[t.cpu]
	c.lock.Lock()
	if cur := c.current; cur != nil && cur != t && cur.state == StateRunning {
		cur.state = StateReady
		if !cur.idle {
			heapPush(&c.ready, cur)
		}
	}
	if t.heapIndex >= 0 {
		heapRemove(&c.ready, t)
	}
	t.state = StateRunning
	c.current = t
	c.lock.Unlock()
}

// mustCreate creates a task or fails the test.
func mustCreate(t *testing.T, k *Kernel, weight uint8) *Task {
	t.Helper()
	id, err := k.TaskCreate(noopEntry, nil, StackMinSize, weight)
	if err != nil {
		t.Fatalf("TaskCreate failed: %v", err)
	}
	tk := taskByID(k, id)
	if tk == nil {
		t.Fatalf("task %d not found after create", id)
	}
	return tk
}
