// Package fault injects scripted failures into fake adapters.
package fault

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Parig0t/compute-subnet-1/internal/check"
)

// Hook decides per call whether a point fails, based on the call's arguments.
type Hook func(args ...any) error

type point struct {
	once   []error
	always error
	hook   Hook
	hits   int
}

// Injector holds failures keyed by point name, for example "session.send".
type Injector struct {
	mu     sync.Mutex
	points map[string]*point
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*point)}
}

// FailOnce queues err for the next evaluation of name. Queued errors are
// consumed in order.
func (i *Injector) FailOnce(name string, err error) {
	check.Assert(err != nil, "fault.FailOnce: err must not be nil")
	i.update(name, func(p *point) { p.once = append(p.once, err) })
}

// FailAlways fails every evaluation of name with err.
func (i *Injector) FailAlways(name string, err error) {
	check.Assert(err != nil, "fault.FailAlways: err must not be nil")
	i.update(name, func(p *point) { p.always = err })
}

// SetHook installs an argument-aware hook for name.
func (i *Injector) SetHook(name string, hook Hook) {
	check.Assert(hook != nil, "fault.SetHook: hook must not be nil")
	i.update(name, func(p *point) { p.hook = hook })
}

// Clear drops every fault configured for name.
func (i *Injector) Clear(name string) {
	if i == nil {
		return
	}
	i.mu.Lock()
	delete(i.points, name)
	i.mu.Unlock()
}

// Hits returns how many times name was evaluated while it had faults configured.
func (i *Injector) Hits(name string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if p := i.points[name]; p != nil {
		return p.hits
	}
	return 0
}

// Eval reports the failure for this call to name, if any. The hook is
// consulted first, then queued one-shot errors, then the persistent error.
func (i *Injector) Eval(name string, args ...any) error {
	check.Assertf(strings.TrimSpace(name) != "", "fault.Eval: empty point name")
	if i == nil {
		return nil
	}

	i.mu.Lock()
	p := i.points[name]
	if p == nil {
		i.mu.Unlock()
		return nil
	}
	p.hits++
	hook, always := p.hook, p.always
	var once error
	if len(p.once) > 0 {
		once, p.once = p.once[0], p.once[1:]
	}
	i.mu.Unlock()

	if hook != nil {
		if err := hook(args...); err != nil {
			return fmt.Errorf("fault %s (hook): %w", name, err)
		}
	}
	switch {
	case once != nil:
		return fmt.Errorf("fault %s (once): %w", name, once)
	case always != nil:
		return fmt.Errorf("fault %s (always): %w", name, always)
	}
	return nil
}

func (i *Injector) update(name string, fn func(*point)) {
	check.Assertf(i != nil, "fault: nil injector configuring %q", name)
	check.Assertf(strings.TrimSpace(name) != "", "fault: empty point name")
	if i == nil || strings.TrimSpace(name) == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.points[name]
	if !ok {
		p = &point{}
		i.points[name] = p
	}
	fn(p)
}
