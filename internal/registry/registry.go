// Package registry holds the set of live Allocations the engine tracks, in
// the sorted-sequence-with-tail shape described by the design: new records
// are appended to an unsorted tail, and only that tail is sorted and merged
// into the head on demand, trading O(1) insertion for an O(k log k + n)
// refresh at collection time.
package registry

import "sort"

// Finalizer is invoked on an Allocation's base address and size immediately
// before its block is released.
type Finalizer func(base uintptr, size int)

// Allocation is one live tracked block.
type Allocation struct {
	Base          uintptr
	Size          int
	Finalizer     Finalizer
	LastValidTime uint64
}

func (a *Allocation) contains(addr uintptr) bool {
	return addr >= a.Base && addr < a.Base+uintptr(a.Size)
}

// Registry is the ordered sequence of Allocations sorted by Base, plus the
// cached "last find" cursor used to bias FindAllocation during a single
// collection.
type Registry struct {
	sorted    []*Allocation // [0:sortedLen) is known sorted
	sortedLen int
	prevFind  int // cursor into sorted; -1 when invalid
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{prevFind: -1}
}

// Len returns the number of tracked allocations (sorted and tail combined).
func (r *Registry) Len() int {
	return len(r.sorted)
}

// Add appends a new Allocation to the unsorted tail. O(1).
func (r *Registry) Add(a *Allocation) {
	r.sorted = append(r.sorted, a)
}

// Remove deletes the Allocation with the given base, if present. Used by
// Free and Realloc. O(n) — acceptable because Free/Realloc are not on the
// conservative-scan hot path and the registry is already walked linearly
// during Sweep.
func (r *Registry) Remove(base uintptr) (*Allocation, bool) {
	for i, a := range r.sorted {
		if a.Base == base {
			r.sorted = append(r.sorted[:i], r.sorted[i+1:]...)
			if i < r.sortedLen {
				r.sortedLen--
			}
			r.prevFind = -1
			return a, true
		}
	}
	return nil, false
}

// Peek returns the Allocation with the given exact base, without removing
// it. Used by Realloc to test whether an address is a known base.
func (r *Registry) Peek(base uintptr) (*Allocation, bool) {
	for _, a := range r.sorted {
		if a.Base == base {
			return a, true
		}
	}
	return nil, false
}

// Clear empties the registry, used by FreeAll.
func (r *Registry) Clear() {
	r.sorted = nil
	r.sortedLen = 0
	r.prevFind = -1
}

// All returns every tracked Allocation, in whatever order the registry
// currently holds them (sorted head + unsorted tail). Callers that need
// sorted order must call Sort first.
func (r *Registry) All() []*Allocation {
	return r.sorted
}

// Sort sorts only the tail range appended since the last Sort, then merges
// it with the already-sorted head into a new backing slice. Invalidates the
// find cursor.
func (r *Registry) Sort() {
	tail := r.sorted[r.sortedLen:]
	sort.Slice(tail, func(i, j int) bool { return tail[i].Base < tail[j].Base })

	if r.sortedLen == 0 {
		r.sortedLen = len(r.sorted)
	} else if len(tail) > 0 {
		merged := make([]*Allocation, 0, len(r.sorted))
		head := r.sorted[:r.sortedLen]
		i, j := 0, 0
		for i < len(head) && j < len(tail) {
			if head[i].Base <= tail[j].Base {
				merged = append(merged, head[i])
				i++
			} else {
				merged = append(merged, tail[j])
				j++
			}
		}
		merged = append(merged, head[i:]...)
		merged = append(merged, tail[j:]...)
		r.sorted = merged
		r.sortedLen = len(r.sorted)
	}

	r.prevFind = -1
}

// Find locates the Allocation whose [base, base+size) range contains addr,
// via upper-bound then step back. When fast is true (the mode used during a
// single collection's scan), the search is biased using the cached cursor:
// if the cursor's base is <= addr, the search starts there and only scans
// forward; otherwise only the range below the cursor is searched. Returns
// nil if no containing Allocation exists, including when addr is below the
// first Allocation's base.
func (r *Registry) Find(addr uintptr, fast bool) *Allocation {
	n := len(r.sorted)
	if n == 0 {
		return nil
	}

	lo, hi := 0, n
	if fast && r.prevFind >= 0 && r.prevFind < n {
		if r.sorted[r.prevFind].Base <= addr {
			lo = r.prevFind
		} else {
			hi = r.prevFind
		}
	}

	// upper_bound: first index with Base > addr, searched within [lo, hi)
	idx := sort.Search(hi-lo, func(i int) bool {
		return r.sorted[lo+i].Base > addr
	}) + lo

	if idx == 0 {
		return nil
	}
	candidate := r.sorted[idx-1]
	r.prevFind = idx - 1

	if candidate.contains(addr) {
		return candidate
	}
	return nil
}
