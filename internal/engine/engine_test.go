package engine

import (
	"bytes"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/heapkeeper/heapkeeper/internal/allocator"
	"github.com/heapkeeper/heapkeeper/internal/coordination"
	"github.com/heapkeeper/heapkeeper/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	return New(coordination.New(), nil)
}

func writeWord(addr uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}

func countingFinalizer(counter *atomic.Int64) Finalizer {
	return func(base uintptr, size int) {
		counter.Add(1)
	}
}

func TestSimpleAllocFree(t *testing.T) {
	e := newTestEngine()

	p, err := e.Malloc(128, nil)
	require.NoError(t, err)
	assert.NotZero(t, p)

	e.Free(p)
	e.Free(p) // second free is a silent no-op
}

func TestRootKeepsBlockAlive(t *testing.T) {
	e := newTestEngine()

	rootBase, err := allocator.Reserve(allocator.WordSize)
	require.NoError(t, err)
	defer allocator.Release(rootBase, allocator.WordSize)
	e.Init([]Root{{Addr: rootBase, Size: allocator.WordSize}})

	var finalized atomic.Int64
	p, err := e.Malloc(allocator.WordSize, countingFinalizer(&finalized))
	require.NoError(t, err)
	writeWord(rootBase, p)

	e.Collect()
	assert.Zero(t, finalized.Load(), "rooted allocation must survive collection")

	e.DeleteRoot(rootBase)
	e.Collect()
	assert.EqualValues(t, 1, finalized.Load())
}

func TestCycleIsCollected(t *testing.T) {
	e := newTestEngine()
	e.Init(nil)

	var finalized atomic.Int64
	a, err := e.Malloc(allocator.WordSize, countingFinalizer(&finalized))
	require.NoError(t, err)
	b, err := e.Malloc(allocator.WordSize, countingFinalizer(&finalized))
	require.NoError(t, err)

	writeWord(a, b)
	writeWord(b, a)

	e.Collect()
	assert.EqualValues(t, 2, finalized.Load())
}

func TestInteriorPointerRetention(t *testing.T) {
	e := newTestEngine()

	const n = 500
	var finalized atomic.Int64
	arr, err := e.Malloc(n*allocator.WordSize, countingFinalizer(&finalized))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		writeWord(arr+uintptr(i*allocator.WordSize), uintptr(i))
	}

	rootBase, err := allocator.Reserve(allocator.WordSize)
	require.NoError(t, err)
	defer allocator.Release(rootBase, allocator.WordSize)
	interior := arr + uintptr(243*allocator.WordSize)
	writeWord(rootBase, interior)
	e.Init([]Root{{Addr: rootBase, Size: allocator.WordSize}})

	e.Collect()
	assert.Zero(t, finalized.Load())

	for i := 243; i < n; i++ {
		v := allocator.ReadWord(arr + uintptr(i*allocator.WordSize))
		assert.EqualValues(t, i, v)
	}

	e.DeleteRoot(rootBase)
	e.Collect()
	assert.EqualValues(t, 1, finalized.Load())
}

func TestFreeAllFinalizesEveryAllocation(t *testing.T) {
	e := newTestEngine()
	var finalized atomic.Int64

	for i := 0; i < 5; i++ {
		_, err := e.Malloc(8, countingFinalizer(&finalized))
		require.NoError(t, err)
	}

	e.FreeAll()
	assert.EqualValues(t, 5, finalized.Load())
	assert.Equal(t, 0, e.Len())
}

func TestReallocPreservesOverlap(t *testing.T) {
	e := newTestEngine()

	p, err := e.Malloc(allocator.WordSize, nil)
	require.NoError(t, err)
	writeWord(p, 0xDEADBEEF)

	p2, err := e.Realloc(p, 4*allocator.WordSize, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0xDEADBEEF, allocator.ReadWord(p2))
}

func TestDumpHeapRoundTrip(t *testing.T) {
	e := newTestEngine()
	p, err := e.Malloc(allocator.WordSize, nil)
	require.NoError(t, err)
	writeWord(p, 0x1234)

	var buf bytes.Buffer
	require.NoError(t, e.DumpHeap(&buf, snapshot.CodecSnappy))

	entries, err := snapshot.Load(&buf, snapshot.CodecSnappy)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p, entries[0].Base)
}

func TestAddRootDeleteRootRoundTrip(t *testing.T) {
	e := newTestEngine()
	r := Root{Addr: 0x1000, Size: 8}
	e.AddRoot(r)
	e.DeleteRoot(r.Addr)
	e.mu.Lock()
	n := len(e.roots)
	e.mu.Unlock()
	assert.Zero(t, n)
}
