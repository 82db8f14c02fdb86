package kern

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// warnLimiter throttles repeated kernel warnings per category so a
// misbehaving task (canary corruption, unlock by non-owner, ISR queue
// overflow) cannot flood the log from interrupt-adjacent paths.
type warnLimiter struct {
	limiter *catrate.Limiter
}

func newWarnLimiter() *warnLimiter {
	return &warnLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 30,
		}),
	}
}

// allow reports whether another warning in the category may be emitted now.
func (w *warnLimiter) allow(category string) bool {
	_, ok := w.limiter.Allow(category)
	return ok
}

// warnCategories used across the kernel.
const (
	warnCanary     = "stack-canary"
	warnOOM        = "heap-oom"
	warnMutexOwner = "mutex-owner"
	warnISRQueue   = "isr-queue"
)
