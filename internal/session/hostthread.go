package session

import (
	"runtime"

	"github.com/psantana5/excel-host/internal/syncx"
	"github.com/psantana5/excel-host/pkg/binding"
)

// hostThread is a goroutine locked to one OS thread for the lifetime of
// the binding init. The platform binding is apartment-bound: handles may
// only be touched by the thread that initialized the binding, so every
// handle call the session makes is funneled through run.
type hostThread struct {
	calls chan func()
	done  chan struct{}
	gid   uint64 // goroutine id of the pinned goroutine
}

type hostCall struct {
	err      error
	panicked bool
	panicVal any
}

// startHostThread spawns the pinned goroutine and performs the per-thread
// binding init on it. The goroutine loops over submitted calls until stop,
// then uninitializes the binding on that same thread before exiting.
func startHostThread(b binding.Binding) (*hostThread, error) {
	t := &hostThread{
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
	initErr := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		t.gid = syncx.GoroutineID()
		if err := b.InitThread(); err != nil {
			initErr <- err
			return
		}
		initErr <- nil
		for fn := range t.calls {
			fn()
		}
		b.UninitThread()
		close(t.done)
	}()
	if err := <-initErr; err != nil {
		return nil, err
	}
	return t, nil
}

// run executes fn on the pinned thread and returns its error. A panic in
// fn is re-raised on the calling goroutine so deferred cleanup on both
// sides runs and the pinned goroutine survives. Reentrant: a call already
// executing on the pinned thread runs fn inline.
func (t *hostThread) run(fn func() error) error {
	if syncx.GoroutineID() == t.gid {
		return fn()
	}
	res := make(chan hostCall, 1)
	t.calls <- func() {
		defer func() {
			if p := recover(); p != nil {
				res <- hostCall{panicked: true, panicVal: p}
			}
		}()
		res <- hostCall{err: fn()}
	}
	r := <-res
	if r.panicked {
		panic(r.panicVal)
	}
	return r.err
}

// stop drains the pinned goroutine: the binding is uninitialized on its
// thread and the goroutine exits. Blocks until teardown is complete.
func (t *hostThread) stop() {
	close(t.calls)
	<-t.done
}
