// Package guard bounds how long a caller waits for an awaited condition.
// A Guard fires its callback at most once per waiting instance; Disarm before
// the deadline cancels it, and a firing that races with Disarm is ignored.
package guard

import (
	"log"
	"sync"
	"time"
)

// Guard is a single-shot deadline. The zero value is not usable; call New.
type Guard struct {
	name string

	mu       sync.Mutex
	timer    *time.Timer
	armed    bool
	fired    bool
	instance uint64
	onFire   func()
	afterF   func(d time.Duration, f func()) *time.Timer
}

// New returns a guard identified by name in diagnostics.
func New(name string) *Guard {
	return &Guard{name: name, afterF: time.AfterFunc}
}

// Name returns the guard's diagnostic name.
func (g *Guard) Name() string { return g.name }

// Arm starts the deadline. onFire runs on its own goroutine if the deadline
// passes before Disarm. Arm returns false without changing anything when the
// guard is already armed or has already fired for the current instance.
func (g *Guard) Arm(d time.Duration, onFire func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed || g.fired {
		return false
	}
	g.armed = true
	g.onFire = onFire
	inst := g.instance
	g.timer = g.afterF(d, func() { g.fire(inst, d) })
	return true
}

// Disarm cancels a pending deadline. It reports whether the guard was armed.
func (g *Guard) Disarm() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return false
	}
	g.armed = false
	g.onFire = nil
	// A callback already past Stop must not match a later Arm.
	g.instance++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	return true
}

// Reset disarms the guard and starts a new waiting instance, after which Arm
// may be called again even if the previous instance fired.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.armed = false
	g.fired = false
	g.onFire = nil
	g.instance++
}

// Fired reports whether the current instance has fired.
func (g *Guard) Fired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// Armed reports whether a deadline is pending.
func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

func (g *Guard) fire(inst uint64, d time.Duration) {
	g.mu.Lock()
	if inst != g.instance || !g.armed {
		g.mu.Unlock()
		return
	}
	g.armed = false
	g.fired = true
	g.timer = nil
	cb := g.onFire
	g.onFire = nil
	g.mu.Unlock()

	log.Printf("guard: %s did not complete within %s, unblocking", g.name, d)
	if cb != nil {
		cb()
	}
}
