// Package coordination implements the stop-the-world handshake: mutator
// threads register themselves, then cooperatively suspend at Safepoint
// whenever the collector has requested a stop, resuming once it clears.
package coordination

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Coordinator tracks registered mutator threads and drives the
// StopWorld/ResumeWorld/Safepoint handshake described by the design: a
// collector thread sets a flag and busy-waits for every registered thread to
// park itself, then clears the flag and wakes them.
type Coordinator struct {
	shouldStop atomic.Bool
	stopped    atomic.Int64

	regMu     sync.Mutex
	threads   map[int64]struct{}
	nextID    int64
	threadsN  atomic.Int64
	resumeMu  sync.Mutex
	resumeCnd *sync.Cond
}

// New returns an empty Coordinator.
func New() *Coordinator {
	c := &Coordinator{
		threads: make(map[int64]struct{}),
	}
	c.resumeCnd = sync.NewCond(&c.resumeMu)
	return c
}

// ThreadHandle identifies one registered mutator thread.
type ThreadHandle int64

// RegisterThread enrolls the calling goroutine (represented by the returned
// handle, which the caller must retain and pass back to DeregisterThread) as
// a mutator the world-stop handshake must wait for.
func (c *Coordinator) RegisterThread() ThreadHandle {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.nextID++
	id := c.nextID
	c.threads[id] = struct{}{}
	c.threadsN.Store(int64(len(c.threads)))
	return ThreadHandle(id)
}

// DeregisterThread removes a previously registered thread.
func (c *Coordinator) DeregisterThread(h ThreadHandle) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	delete(c.threads, int64(h))
	c.threadsN.Store(int64(len(c.threads)))
}

// ThreadCount reports the number of currently registered mutator threads.
func (c *Coordinator) ThreadCount() int {
	return int(c.threadsN.Load())
}

// Safepoint is the only place a mutator yields control to the collector.
// The fast path (no stop pending) costs one atomic load.
func (c *Coordinator) Safepoint() {
	if !c.shouldStop.Load() {
		return
	}
	c.resumeMu.Lock()
	c.stopped.Add(1)
	for c.shouldStop.Load() {
		c.resumeCnd.Wait()
	}
	c.stopped.Add(-1)
	c.resumeMu.Unlock()
}

// StopWorld requests a stop and busy-waits until every registered thread has
// reached its safepoint. The calling (collector) goroutine is never itself
// a registered thread. There is no timeout: a registered thread that never
// calls Safepoint wedges the collector by design.
func (c *Coordinator) StopWorld() {
	c.shouldStop.Store(true)
	for c.stopped.Load() < c.threadsN.Load() {
		runtime.Gosched()
	}
}

// ResumeWorld clears the stop request and wakes every thread parked in
// Safepoint.
func (c *Coordinator) ResumeWorld() {
	c.resumeMu.Lock()
	c.shouldStop.Store(false)
	c.resumeCnd.Broadcast()
	c.resumeMu.Unlock()
}
