package heapkeeper

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/heapkeeper/heapkeeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		BytesThreshold:  1 << 30,
		CallsThreshold:  1 << 30,
		CollectInterval: time.Hour,
		PacerAlpha:      0.2,
		PacerPeakFactor: 2,
		AutoCollect:     false,
	}
	e := NewEngine(cfg, nil)
	t.Cleanup(e.Shutdown)
	return e
}

func writeWord(addr uintptr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}

func TestSimpleAllocFree(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.AllocDefault(128)
	require.NoError(t, err)
	assert.NotZero(t, p)

	e.Free(p)
	e.Free(p)
}

func TestRootKeepsBlockAlive(t *testing.T) {
	e := newTestEngine(t)

	rootBase, err := e.AllocDefault(int(unsafe.Sizeof(uintptr(0))))
	require.NoError(t, err)
	wordSize := int(unsafe.Sizeof(uintptr(0)))

	var finalized atomic.Int64
	num, err := e.Alloc(wordSize, func(base uintptr, size int) { finalized.Add(1) })
	require.NoError(t, err)
	writeWord(num, 12345)

	e.Init([]Root{{Addr: rootBase, Size: wordSize}})
	writeWord(rootBase, num)

	e.CollectBlocked()
	assert.EqualValues(t, 12345, *(*uintptr)(unsafe.Pointer(num)))
	assert.Zero(t, finalized.Load())
}

func TestCycleIsCollected(t *testing.T) {
	e := newTestEngine(t)
	e.Init(nil)
	wordSize := int(unsafe.Sizeof(uintptr(0)))

	var finalized atomic.Int64
	fin := func(base uintptr, size int) { finalized.Add(1) }

	a, err := e.Alloc(wordSize, fin)
	require.NoError(t, err)
	b, err := e.Alloc(wordSize, fin)
	require.NoError(t, err)
	writeWord(a, b)
	writeWord(b, a)

	e.CollectBlocked()
	assert.EqualValues(t, 2, finalized.Load())
}

func TestByteThresholdTriggersAutomaticCollection(t *testing.T) {
	cfg := &config.Config{
		BytesThreshold:  100,
		CallsThreshold:  1 << 30,
		CollectInterval: time.Hour,
		PacerAlpha:      0.2,
		PacerPeakFactor: 2,
		AutoCollect:     true,
	}
	e := NewEngine(cfg, nil)
	defer e.Shutdown()

	var finalized atomic.Int64
	fin := func(base uintptr, size int) { finalized.Add(1) }
	_, err := e.Alloc(100, fin)
	require.NoError(t, err)
	_, err = e.Alloc(100, fin)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return finalized.Load() >= 1 // no roots, so a triggered collection finalizes the blocks
	}, time.Second, 10*time.Millisecond)
}

func TestEnableDisableAutoRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	e.EnableAuto()
	e.DisableAuto()
}

func TestAddRootDeleteRootRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	r := Root{Addr: 0x4000, Size: 8}
	e.AddRoot(r)
	e.DeleteRoot(r.Addr)
}

func TestStatsIncludesHostAndVersionFields(t *testing.T) {
	e := newTestEngine(t)

	require.Eventually(t, func() bool {
		stats := e.Stats()
		_, hasMem := stats["mem_total_mb"]
		return hasMem && stats["mem_total_mb"].(float64) > 0
	}, 5*time.Second, 20*time.Millisecond, "sysmon sampler should populate host stats")

	stats := e.Stats()
	assert.Equal(t, EngineVersion, stats["engine_version"])
	assert.Contains(t, stats, "cpu_percent")
	assert.Contains(t, stats, "mem_used_percent")
	assert.Contains(t, stats, "mem_available_mb")
}

func TestCollectDoesNotBlockCaller(t *testing.T) {
	e := newTestEngine(t)
	e.Init(nil)

	_, err := e.AllocDefault(64)
	require.NoError(t, err)

	start := time.Now()
	e.Collect()
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"Collect should only trigger the scheduler's worker, not run the collection itself")

	e.WaitCollect()
}
