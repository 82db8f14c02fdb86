package kern

import "github.com/joeycumines/logiface"

// kernelOptions holds configuration resolved at construction.
type kernelOptions struct {
	cpus   int
	logger *logiface.Logger[logiface.Event]
}

// Option configures a Kernel instance.
type Option interface {
	applyKernel(*kernelOptions)
}

type optionImpl struct {
	applyFunc func(*kernelOptions)
}

func (o *optionImpl) applyKernel(opts *kernelOptions) { o.applyFunc(opts) }

// WithCPUs sets the number of schedulable CPUs, clamped to 1..MaxCPUs.
// Tasks are assigned to CPUs round-robin at creation and stay put.
func WithCPUs(n int) Option {
	return &optionImpl{func(opts *kernelOptions) {
		if n < 1 {
			n = 1
		}
		if n > MaxCPUs {
			n = MaxCPUs
		}
		opts.cpus = n
	}}
}

// WithLogger sets the kernel's structured logger. A nil logger (the
// default) disables logging entirely; builders on a nil logiface logger are
// no-ops, so hot paths pay only a nil check.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *kernelOptions) {
		opts.logger = logger
	}}
}

func resolveOptions(opts []Option) *kernelOptions {
	cfg := &kernelOptions{cpus: 1}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applyKernel(cfg)
	}
	return cfg
}
