package heapkeeper

import (
	"testing"
	"time"
	"unsafe"

	"github.com/heapkeeper/heapkeeper/internal/allocator"
	"github.com/heapkeeper/heapkeeper/internal/config"
)

// =============================================================================
// ALLOCATION BENCHMARKS
// =============================================================================

func benchConfig() *config.Config {
	return &config.Config{
		BytesThreshold:  1 << 30,
		CallsThreshold:  1 << 30,
		CollectInterval: time.Hour,
		PacerAlpha:      0.2,
		PacerPeakFactor: 2,
		AutoCollect:     false,
	}
}

// BenchmarkMalloc measures Alloc time for a fixed-size, non-finalized block.
// Each operation (b.N) = 1 allocation; the engine never collects, so this is
// the cost of reserving the block from the OS plus registry insertion.
//
// Run with: go test -run=^$ -bench=BenchmarkMalloc -benchmem
func BenchmarkMalloc(b *testing.B) {
	e := NewEngine(benchConfig(), nil)
	defer e.Shutdown()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.AllocDefault(64); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
}

// BenchmarkFree measures Free time against a pre-populated registry.
//
// Run with: go test -run=^$ -bench=BenchmarkFree -benchmem
func BenchmarkFree(b *testing.B) {
	e := NewEngine(benchConfig(), nil)
	defer e.Shutdown()

	ptrs := make([]uintptr, b.N)
	for i := range ptrs {
		p, err := e.AllocDefault(64)
		if err != nil {
			b.Fatal(err)
		}
		ptrs[i] = p
	}

	b.ResetTimer()
	for _, p := range ptrs {
		e.Free(p)
	}
	b.StopTimer()
}

// =============================================================================
// COLLECTION BENCHMARKS
// =============================================================================

// BenchmarkCollect measures one stop-the-world collection over a heap of
// 10,000 unreferenced 64-byte blocks. Each op finalizes and releases the
// entire heap, then repopulates it for the next iteration.
//
// Run with: go test -run=^$ -bench=BenchmarkCollect -benchmem -benchtime=100x
func BenchmarkCollect(b *testing.B) {
	const heapSize = 10000

	e := NewEngine(benchConfig(), nil)
	defer e.Shutdown()
	e.Init(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < heapSize; j++ {
			if _, err := e.AllocDefault(64); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()

		e.CollectBlocked()
	}
	b.StopTimer()
}

// BenchmarkCollect_WithSurvivors measures a collection where half the heap
// is kept alive via a root, exercising both the mark and sweep paths.
//
// Run with: go test -run=^$ -bench=BenchmarkCollect_WithSurvivors -benchmem -benchtime=100x
func BenchmarkCollect_WithSurvivors(b *testing.B) {
	const heapSize = 10000
	wordSize := int(unsafe.Sizeof(uintptr(0)))

	e := NewEngine(benchConfig(), nil)
	defer e.Shutdown()

	rootBase, err := allocator.Reserve(wordSize * heapSize / 2)
	if err != nil {
		b.Fatal(err)
	}
	defer allocator.Release(rootBase, wordSize*heapSize/2)
	e.Init([]Root{{Addr: rootBase, Size: wordSize * heapSize / 2}})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < heapSize; j++ {
			p, err := e.AllocDefault(64)
			if err != nil {
				b.Fatal(err)
			}
			if j < heapSize/2 {
				writeWord(rootBase+uintptr(j*wordSize), p)
			}
		}
		b.StartTimer()

		e.CollectBlocked()
	}
	b.StopTimer()
}
