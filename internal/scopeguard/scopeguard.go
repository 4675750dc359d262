// Package scopeguard provides a LIFO cleanup list for the variable number
// of undo actions a dump pass accumulates (one resume per suspended
// thread, one deallocate per wrapped Mach port). A single Go defer can't
// express "run N actions gathered during a loop" cleanly, so callers
// accumulate them here and run them all, in reverse order, exactly once.
package scopeguard

import "sync"

// Guard accumulates cleanup actions and runs them once, LIFO, on Close.
// The zero value is ready to use.
type Guard struct {
	mu      sync.Mutex
	actions []func()
	done    bool
}

// Add appends a cleanup action. Actions run in reverse order of Add calls.
func (g *Guard) Add(action func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		action()
		return
	}
	g.actions = append(g.actions, action)
}

// Close runs every accumulated action, most-recently-added first. It is
// idempotent: calling it more than once is a no-op after the first call.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	actions := g.actions
	g.actions = nil
	g.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		actions[i]()
	}
}
