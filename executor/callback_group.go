package executor

import (
	"sync"
)

type CallbackGroupType int

const (
	// MutuallyExclusive groups never run two of their callbacks at once.
	MutuallyExclusive CallbackGroupType = iota
	Reentrant
)

func (t CallbackGroupType) String() string {
	if t == Reentrant {
		return "reentrant"
	}
	return "mutually_exclusive"
}

// CallbackGroup queues callbacks until an executor it is attached to spins.
type CallbackGroup struct {
	kind    CallbackGroupType
	autoAdd bool

	mu    sync.Mutex
	queue []func()
	exec  *SingleThreadedExecutor

	running sync.Mutex // held while a MutuallyExclusive callback runs
}

// NewCallbackGroup creates a group. autoAdd marks it for pickup by an executor
// spinning the owning node; groups created with false must be added to an
// executor explicitly.
func NewCallbackGroup(kind CallbackGroupType, autoAdd bool) *CallbackGroup {
	return &CallbackGroup{kind: kind, autoAdd: autoAdd}
}

func (g *CallbackGroup) Type() CallbackGroupType {
	return g.kind
}

func (g *CallbackGroup) AutomaticallyAddToExecutor() bool {
	return g.autoAdd
}

// Post queues cb to run on the executor's spinning goroutine.
func (g *CallbackGroup) Post(cb func()) {
	g.mu.Lock()
	g.queue = append(g.queue, cb)
	exec := g.exec
	g.mu.Unlock()

	if exec != nil {
		exec.notify()
	}
}

// Pending returns the number of queued callbacks.
func (g *CallbackGroup) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// runOne pops and runs one callback. It returns false if the queue was empty
// or another callback of a mutually exclusive group is running.
func (g *CallbackGroup) runOne() bool {
	if g.kind == MutuallyExclusive {
		if !g.running.TryLock() {
			return false
		}
		defer g.running.Unlock()
	}

	g.mu.Lock()
	if len(g.queue) == 0 {
		g.mu.Unlock()
		return false
	}
	cb := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	g.mu.Unlock()

	cb()

	// Another spinner may have found the group busy and gone to sleep.
	g.mu.Lock()
	exec, more := g.exec, len(g.queue) > 0
	g.mu.Unlock()
	if more && exec != nil {
		exec.notify()
	}
	return true
}
