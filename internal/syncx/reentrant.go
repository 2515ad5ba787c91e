// Package syncx provides a reentrant mutex used to serialize all access to
// the single automation handle. The platform binding forbids concurrent
// cross-thread use of the handle, and nested calls (a lease taken inside
// another lease's scope) must not deadlock.
package syncx

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ReentrantMutex is a mutex that may be re-acquired by the goroutine that
// already holds it. Unlock must be called once per Lock, by the owning
// goroutine.
type ReentrantMutex struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth int
}

// Lock acquires the mutex, or increments the hold depth if the calling
// goroutine already owns it.
func (m *ReentrantMutex) Lock() {
	id := GoroutineID()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

// Unlock decrements the hold depth and releases the mutex when it reaches
// zero. Panics if called by a goroutine that does not own the mutex.
func (m *ReentrantMutex) Unlock() {
	if m.owner.Load() != GoroutineID() {
		panic("syncx: unlock of mutex held by another goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

var stackPrefix = []byte("goroutine ")

// GoroutineID extracts the current goroutine's id from the stack header.
// Runtime offers no public accessor; the header format has been stable
// since Go 1.0. Real ids start at 1, so 0 stays free as the mutex's
// "unowned" sentinel; an unrecognized header panics rather than return a
// value that could collide with it.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], stackPrefix)
	i := bytes.IndexByte(b, ' ')
	if i <= 0 {
		panic("syncx: unrecognized stack header: " + string(buf[:n]))
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil || id == 0 {
		panic("syncx: unrecognized stack header: " + string(buf[:n]))
	}
	return id
}
