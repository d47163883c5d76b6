// Package executor drives callbacks queued in callback groups. Nothing runs
// unless a goroutine spins the executor, which confines a client's response
// handling to the goroutine blocked waiting for it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Forever disables a spin or wait timeout.
const Forever time.Duration = -1

var ErrGroupAlreadyAdded = errors.New("executor: callback group already added to an executor")

// ReturnCode is the outcome of SpinUntilFutureComplete.
type ReturnCode int

const (
	Success ReturnCode = iota
	Interrupted
	Timeout
)

func (c ReturnCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Interrupted:
		return "INTERRUPTED"
	case Timeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("ReturnCode(%d)", int(c))
	}
}

// SingleThreadedExecutor runs callbacks on whichever goroutine spins it.
type SingleThreadedExecutor struct {
	mu     sync.Mutex
	groups []*CallbackGroup
	wake   chan struct{}
}

func NewSingleThreadedExecutor() *SingleThreadedExecutor {
	return &SingleThreadedExecutor{
		wake: make(chan struct{}, 1),
	}
}

// AddCallbackGroup attaches g, owned by the named node. A group can belong to
// only one executor.
func (e *SingleThreadedExecutor) AddCallbackGroup(g *CallbackGroup, owner string) error {
	g.mu.Lock()
	if g.exec != nil {
		g.mu.Unlock()
		return fmt.Errorf("%w (node %s)", ErrGroupAlreadyAdded, owner)
	}
	g.exec = e
	queued := len(g.queue) > 0
	g.mu.Unlock()

	e.mu.Lock()
	e.groups = append(e.groups, g)
	e.mu.Unlock()

	if queued {
		e.notify()
	}
	return nil
}

// RemoveCallbackGroup detaches g. Its queued callbacks stay queued.
func (e *SingleThreadedExecutor) RemoveCallbackGroup(g *CallbackGroup) {
	g.mu.Lock()
	if g.exec == e {
		g.exec = nil
	}
	g.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.groups {
		if cur == g {
			e.groups = append(e.groups[:i], e.groups[i+1:]...)
			break
		}
	}
}

// Groups returns the attached groups.
func (e *SingleThreadedExecutor) Groups() []*CallbackGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*CallbackGroup(nil), e.groups...)
}

func (e *SingleThreadedExecutor) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// runAvailable runs queued callbacks until none is runnable and reports
// whether any ran.
func (e *SingleThreadedExecutor) runAvailable() bool {
	ran := false
	for {
		progressed := false
		for _, g := range e.Groups() {
			if g.runOne() {
				progressed, ran = true, true
			}
		}
		if !progressed {
			return ran
		}
	}
}

// SpinOnce runs at most one ready callback, waiting up to timeout for one to
// become ready. It reports whether a callback ran.
func (e *SingleThreadedExecutor) SpinOnce(ctx context.Context, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		for _, g := range e.Groups() {
			if g.runOne() {
				return true
			}
		}
		select {
		case <-e.wake:
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		}
	}
}

// SpinUntilFutureComplete runs callbacks until w completes, ctx is done
// (Interrupted) or timeout passes (Timeout). A negative timeout spins until
// completion or ctx; zero runs what is ready and returns.
//
// Several goroutines may spin the same executor; each returns as soon as its
// own Waitable completes, whoever ran the completing callback.
func (e *SingleThreadedExecutor) SpinUntilFutureComplete(ctx context.Context, w Waitable, timeout time.Duration) ReturnCode {
	var deadline <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-w.Done():
			return Success
		default:
		}

		if e.runAvailable() {
			continue
		}
		if timeout == 0 {
			return Timeout
		}

		select {
		case <-w.Done():
			return Success
		case <-e.wake:
		case <-ctx.Done():
			return Interrupted
		case <-deadline:
			return Timeout
		}
	}
}
