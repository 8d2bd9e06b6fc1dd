// Package engine is the allocation registry and conservative mark-sweep
// collector: it owns every live Allocation, the root set, the generation
// timer, and the Collect algorithm that stops the world, marks from roots,
// sweeps the unreachable, and resumes.
package engine

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/heapkeeper/heapkeeper/internal/allocator"
	"github.com/heapkeeper/heapkeeper/internal/coordination"
	"github.com/heapkeeper/heapkeeper/internal/registry"
	"github.com/heapkeeper/heapkeeper/internal/snapshot"
)

// Root is a contiguous, readable memory span the collector may scan. Two
// roots are equal iff their Addr matches; Size is not part of identity.
type Root struct {
	Addr uintptr
	Size int
}

// Finalizer runs immediately before a block is released.
type Finalizer = registry.Finalizer

// Engine owns the registry, the root set, and the generation timer, and
// implements the collection algorithm. It does not own the scheduler; the
// scheduler holds an Engine as its Collector and calls Collect.
type Engine struct {
	mu    sync.Mutex // guards reg, roots, timer — the "registry lock"
	reg   *registry.Registry
	roots []Root
	timer uint64

	coord  *coordination.Coordinator
	logger *slog.Logger
}

// New constructs an Engine around the given coordinator.
func New(coord *coordination.Coordinator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reg:    registry.New(),
		coord:  coord,
		logger: logger,
	}
}

// Init replaces the root set.
func (e *Engine) Init(roots []Root) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roots = append([]Root(nil), roots...)
}

// AddRoot appends a root region.
func (e *Engine) AddRoot(r Root) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roots = append(e.roots, r)
}

// DeleteRoot removes the root matching addr, if any. Matches by Addr only.
func (e *Engine) DeleteRoot(addr uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.roots {
		if r.Addr == addr {
			e.roots = append(e.roots[:i], e.roots[i+1:]...)
			return
		}
	}
}

// Malloc reserves a size-byte block and registers it with fin as its
// finalizer. fin may be nil.
func (e *Engine) Malloc(size int, fin Finalizer) (uintptr, error) {
	e.coord.Safepoint()

	base, err := allocator.Reserve(size)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.reg.Add(&registry.Allocation{
		Base:          base,
		Size:          size,
		Finalizer:     fin,
		LastValidTime: atomic.LoadUint64(&e.timer),
	})
	e.mu.Unlock()

	return base, nil
}

// Calloc reserves a zero-filled block of n*size bytes.
func (e *Engine) Calloc(n, size int, fin Finalizer) (uintptr, error) {
	total := n * size
	base, err := e.Malloc(total, fin)
	if err != nil {
		return 0, err
	}
	allocator.Zero(base, total)
	return base, nil
}

// Realloc deregisters ptr (without invoking its finalizer), requests a new
// block of size bytes preserving the overlap of old and new contents, and
// registers it. The registry is left untouched if the underlying reserve
// fails.
func (e *Engine) Realloc(ptr uintptr, size int, fin Finalizer) (uintptr, error) {
	e.coord.Safepoint()

	e.mu.Lock()
	old, ok := e.reg.Peek(ptr)
	var oldSize int
	if ok {
		oldSize = old.Size
	}
	e.mu.Unlock()

	newBase, err := allocator.Reserve(size)
	if err != nil {
		return 0, err
	}

	if ok {
		n := oldSize
		if size < n {
			n = size
		}
		allocator.CopyBytes(newBase, ptr, n)
	}

	e.mu.Lock()
	if ok {
		e.reg.Remove(ptr)
	}
	e.reg.Add(&registry.Allocation{
		Base:          newBase,
		Size:          size,
		Finalizer:     fin,
		LastValidTime: atomic.LoadUint64(&e.timer),
	})
	e.mu.Unlock()

	if ok {
		allocator.Release(ptr, oldSize)
	}

	return newBase, nil
}

// Free releases ptr if it is the base of a known Allocation, running its
// finalizer first. An unknown ptr is a silent no-op.
func (e *Engine) Free(ptr uintptr) {
	e.coord.Safepoint()

	e.mu.Lock()
	a, ok := e.reg.Remove(ptr)
	e.mu.Unlock()
	if !ok {
		return
	}

	if a.Finalizer != nil {
		a.Finalizer(a.Base, a.Size)
	}
	allocator.Release(a.Base, a.Size)
}

// FreeAll finalizes and releases every tracked Allocation and empties the
// registry. It takes the registry lock but, matching the reference
// behavior, does not stop the world — callers must externally guarantee
// mutator quiescence.
func (e *Engine) FreeAll() {
	e.mu.Lock()
	all := append([]*registry.Allocation(nil), e.reg.All()...)
	e.reg.Clear()
	e.mu.Unlock()

	for _, a := range all {
		if a.Finalizer != nil {
			a.Finalizer(a.Base, a.Size)
		}
		allocator.Release(a.Base, a.Size)
	}
}

// Collect runs one stop-the-world, mark-and-sweep cycle. Implements
// scheduler.Collector.
func (e *Engine) Collect() {
	runID := uuid.New()
	e.coord.StopWorld()
	defer e.coord.ResumeWorld()

	e.mu.Lock()
	defer e.mu.Unlock()

	currentTimer := e.collectPrepare()
	worklist := e.markRoots(currentTimer)
	e.markHeapAllocs(worklist, currentTimer)
	survivors, dead := e.sweep(currentTimer)

	e.logger.Debug("collection complete",
		"run_id", runID,
		"survivors", survivors,
		"finalized", dead,
	)
}

// collectPrepare increments the generation timer, refreshes the sorted
// registry order, and returns the new timer value. Caller holds e.mu.
func (e *Engine) collectPrepare() uint64 {
	atomic.AddUint64(&e.timer, 1)
	e.reg.Sort()
	return atomic.LoadUint64(&e.timer)
}

// markRoots scans every root region, stepping by WordSize from the root's
// raw (unaligned) base address — see the heap scan's use of allocator.
// Aligned for the deliberate asymmetry. Any Allocation a root word points
// into is marked live and, if large enough to itself hold a pointer, added
// to the worklist for a further heap scan. Caller holds e.mu.
func (e *Engine) markRoots(currentTimer uint64) []*registry.Allocation {
	var worklist []*registry.Allocation
	for _, r := range e.roots {
		if r.Size < allocator.WordSize {
			continue
		}
		end := r.Addr + uintptr(r.Size-allocator.WordSize+1)
		for p := r.Addr; p < end; p += uintptr(allocator.WordSize) {
			w := allocator.ReadWord(p)
			a := e.reg.Find(w, true)
			if a == nil {
				continue
			}
			a.LastValidTime = currentTimer
			if a.Size >= allocator.WordSize {
				worklist = append(worklist, a)
			}
		}
	}
	return worklist
}

// markHeapAllocs scans the contents of every worklist Allocation, starting
// at the aligned base address. Marks discovered here are not re-added to
// the worklist: this is a one-level BFS from roots, not a full transitive
// closure. Caller holds e.mu.
func (e *Engine) markHeapAllocs(worklist []*registry.Allocation, currentTimer uint64) {
	for _, alloc := range worklist {
		start := allocator.Aligned(alloc.Base)
		end := alloc.Base + uintptr(alloc.Size-allocator.WordSize+1)
		for p := start; p < end; p += uintptr(allocator.WordSize) {
			w := allocator.ReadWord(p)
			a := e.reg.Find(w, true)
			if a == nil {
				continue
			}
			a.LastValidTime = currentTimer
		}
	}
}

// sweep partitions the registry into survivors (last_valid_time >=
// currentTimer) and dead, finalizing and releasing the dead. Caller holds
// e.mu.
func (e *Engine) sweep(currentTimer uint64) (survivors, finalized int) {
	for _, a := range append([]*registry.Allocation(nil), e.reg.All()...) {
		if a.LastValidTime >= currentTimer {
			survivors++
			continue
		}
		if a.Finalizer != nil {
			a.Finalizer(a.Base, a.Size)
		}
		allocator.Release(a.Base, a.Size)
		e.reg.Remove(a.Base)
		finalized++
	}
	return survivors, finalized
}

// RegisterThread enrolls the calling mutator in the stop-the-world
// handshake.
func (e *Engine) RegisterThread() coordination.ThreadHandle { return e.coord.RegisterThread() }

// DeregisterThread withdraws a previously registered mutator.
func (e *Engine) DeregisterThread(h coordination.ThreadHandle) { e.coord.DeregisterThread(h) }

// Safepoint cooperatively yields to a pending stop-the-world.
func (e *Engine) Safepoint() { e.coord.Safepoint() }

// Len reports the number of tracked Allocations, for diagnostics.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.Len()
}

// Generation reports the number of collections run so far.
func (e *Engine) Generation() uint64 {
	return atomic.LoadUint64(&e.timer)
}

// DumpHeap writes every tracked Allocation's base address and raw contents
// to w, compressed with codec. It takes the registry lock for the
// duration of the copy; callers on a latency-sensitive path should collect
// first to shrink the set being dumped.
func (e *Engine) DumpHeap(w io.Writer, codec snapshot.Codec) error {
	e.mu.Lock()
	entries := make([]snapshot.Entry, 0, e.reg.Len())
	for _, a := range e.reg.All() {
		entries = append(entries, snapshot.Entry{Base: a.Base, Data: allocator.ReadBytes(a.Base, a.Size)})
	}
	e.mu.Unlock()

	return snapshot.Dump(w, codec, entries)
}
