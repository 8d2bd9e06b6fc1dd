// Package scheduler owns the background collector worker: it wakes on a
// timer, an explicit trigger, a parameter change, or the pacer's own
// judgment, invokes the engine, and lets callers block until a collection
// completes.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/heapkeeper/heapkeeper/internal/pacer"
	"github.com/heapkeeper/heapkeeper/internal/panichandler"
)

// Collector is the single operation the scheduler drives: run one
// stop-the-world collection. Implemented by the engine.
type Collector interface {
	Collect()
}

const defaultCollectionInterval = 500 * time.Millisecond

// Scheduler owns the worker goroutine and the pacer.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	pacer    *pacer.Pacer
	collect  Collector
	interval time.Duration

	running       bool
	stop          bool
	shutdown      bool
	paramsChanged bool
	triggered     bool
	collectDone   bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// New constructs a Scheduler around the given pacer and Collector.
func New(p *pacer.Pacer, collect Collector, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		pacer:    p,
		collect:  collect,
		interval: defaultCollectionInterval,
		logger:   logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start spawns the worker goroutine if it is not already running. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = false
	s.cond.Broadcast()
	if s.running {
		return
	}
	s.running = true
	s.shutdown = false
	s.wg.Add(1)
	panichandler.SafeGo("scheduler-worker", s.loop)
}

// Stop pauses the worker's interval- and pacer-driven collections without
// terminating it: the goroutine stays in its wait loop until Start or
// Shutdown, and still runs collections requested through TriggerCollect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Shutdown terminates the worker goroutine and waits for it to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// IsRunning reports whether the worker goroutine is active and not paused
// by Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.stop
}

// TriggerCollect requests an out-of-band collection on the next wake.
func (s *Scheduler) TriggerCollect() {
	s.mu.Lock()
	s.triggered = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// WaitCollect blocks until the next collection completes.
func (s *Scheduler) WaitCollect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectDone = false
	for !s.collectDone {
		s.cond.Wait()
	}
}

// UpdateAllocationStats forwards the allocation volume to the pacer and
// wakes the worker immediately if the pacer now judges a collection due.
func (s *Scheduler) UpdateAllocationStats(bytes, calls uint64) {
	s.pacer.Update(bytes, calls)
	if s.pacer.ShouldTrigger() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// SetCollectionInterval updates the worker's wake interval, taking effect
// at the next loop iteration.
func (s *Scheduler) SetCollectionInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.paramsChanged = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// GetThresholdBytes returns the pacer's configured byte threshold.
func (s *Scheduler) GetThresholdBytes() uint64 { return s.pacer.ThresholdBytes() }

// GetThresholdCalls returns the pacer's configured call threshold.
func (s *Scheduler) GetThresholdCalls() uint64 { return s.pacer.ThresholdCalls() }

// SetThresholdBytes updates the pacer's byte threshold.
func (s *Scheduler) SetThresholdBytes(v uint64) { s.pacer.SetThresholdBytes(v) }

// SetThresholdCalls updates the pacer's call threshold.
func (s *Scheduler) SetThresholdCalls(v uint64) { s.pacer.SetThresholdCalls(v) }

// ResetStats clears the pacer's accumulated totals and rates.
func (s *Scheduler) ResetStats() { s.pacer.Reset() }

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.shutdown {
			s.running = false
			s.mu.Unlock()
			return
		}

		s.paramsChanged = false
		// Any caller parked in WaitCollect from a prior round has already
		// observed collectDone; broadcasting here lets a waiter that joined
		// after that collection, but before this quiescent point, proceed
		// rather than block for a full extra interval.
		s.cond.Broadcast()

		timedOut := s.waitForWakeLocked()

		paused := s.stop
		triggered := s.triggered
		due := s.pacer.ShouldTrigger()
		s.mu.Unlock()

		if triggered || (!paused && (due || timedOut)) {
			s.runCollection()
			s.mu.Lock()
			s.triggered = false
			s.mu.Unlock()
			s.pacer.Reset()
		}
	}
}

// waitForWakeLocked blocks until shutdown, a trigger, a parameter change, a
// pacer-judged collection, a pause transition, or (only while running, i.e.
// not paused) the collection interval elapses. s.mu must be held on entry
// and is held on return. The returned bool reports a timeout wake.
func (s *Scheduler) waitForWakeLocked() (timedOut bool) {
	if s.stop {
		for s.stop && !s.shutdown && !s.triggered && !s.paramsChanged {
			s.cond.Wait()
		}
		return false
	}

	deadline := time.Now().Add(s.interval)
	for {
		if s.shutdown || s.triggered || s.paramsChanged || s.stop || s.pacer.ShouldTrigger() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}

		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()

		if time.Now().After(deadline) {
			return true
		}
	}
}

func (s *Scheduler) runCollection() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("collection worker panicked", "panic", r)
		}
	}()
	s.collect.Collect()
	s.mu.Lock()
	s.collectDone = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
