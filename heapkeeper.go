// Package heapkeeper is a conservative, stop-the-world, mark-and-sweep
// garbage collector exposed as an allocator for untyped memory blocks. A
// host program allocates through Alloc/Calloc/Realloc, declares root
// regions and mutator threads, and either triggers collection explicitly or
// lets the adaptive scheduler decide when allocation pressure warrants one.
package heapkeeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/heapkeeper/heapkeeper/internal/allocator"
	"github.com/heapkeeper/heapkeeper/internal/config"
	"github.com/heapkeeper/heapkeeper/internal/coordination"
	"github.com/heapkeeper/heapkeeper/internal/engine"
	"github.com/heapkeeper/heapkeeper/internal/pacer"
	"github.com/heapkeeper/heapkeeper/internal/panichandler"
	"github.com/heapkeeper/heapkeeper/internal/scheduler"
	"github.com/heapkeeper/heapkeeper/internal/sysmon"
	"github.com/heapkeeper/heapkeeper/internal/telemetry"
)

// sysSampleInterval is how often the background host-resource sampler
// refreshes the snapshot folded into Stats.
const sysSampleInterval = 2 * time.Second

// EngineVersion is the engine's own semver, reported through Stats so a
// remote heapkeeperctl can flag a connection to a too-old process.
const EngineVersion = "0.3.0"

// ErrOutOfMemory is returned when the underlying system allocator refuses a
// reservation during Alloc, Calloc, or Realloc.
var ErrOutOfMemory = allocator.ErrOutOfMemory

// Finalizer runs immediately before a block is released, receiving its
// base address and size. A nil Finalizer is a no-op.
type Finalizer = engine.Finalizer

// Root declares a contiguous, readable memory span the collector may
// scan for pointers into tracked allocations.
type Root = engine.Root

// ThreadHandle identifies a registered mutator thread, returned by
// RegisterThread and consumed by DeregisterThread.
type ThreadHandle = coordination.ThreadHandle

// Engine is a self-contained collector instance: its own registry, root
// set, scheduler, and pacer. Most hosts use the process-wide instance via
// Default and the package-level functions; Engine is exported for hosts
// that need more than one independently paced collector.
type Engine struct {
	core   *engine.Engine
	coord  *coordination.Coordinator
	sched  *scheduler.Scheduler
	pacer  *pacer.Pacer
	cfg    *config.Config
	tele   *telemetry.Server
	logger *slog.Logger

	sysMu     sync.RWMutex
	sysSample sysmon.Sample
	sysCancel context.CancelFunc
}

// NewEngine constructs an Engine from cfg. A nil cfg loads configuration
// from the environment via config.Load.
func NewEngine(cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Load()
	}
	if logger == nil {
		logger = slog.Default()
	}

	coord := coordination.New()
	core := engine.New(coord, logger)
	p := pacer.NewWithParams(cfg.BytesThreshold, cfg.CallsThreshold, cfg.PacerAlpha, cfg.PacerPeakFactor, pacer.DefaultUpdateFrequency)
	sched := scheduler.New(p, core, logger)
	sched.SetCollectionInterval(cfg.CollectInterval)

	e := &Engine{
		core:   core,
		coord:  coord,
		sched:  sched,
		pacer:  p,
		cfg:    cfg,
		logger: logger,
	}

	if cfg.TelemetryAddr != "" {
		e.tele = telemetry.New(cfg.TelemetryAddr, e, e, logger)
	}

	sysCtx, cancel := context.WithCancel(context.Background())
	e.sysCancel = cancel
	panichandler.SafeGo("sysmon-sampler", func() {
		sysmon.Monitor(sysCtx, sysSampleInterval, func(s sysmon.Sample) {
			e.sysMu.Lock()
			e.sysSample = s
			e.sysMu.Unlock()
		})
	})

	// The worker goroutine must always run: TriggerCollect/WaitCollect (and
	// so CollectBlocked) depend on it regardless of automatic collection.
	// AutoCollect only governs whether the worker also fires on its own,
	// via interval/pacer judgment; Stop leaves explicit triggers live.
	sched.Start()
	if !cfg.AutoCollect {
		sched.Stop()
	}
	return e
}

// Init replaces the engine's root set.
func (e *Engine) Init(roots []Root) { e.core.Init(roots) }

// AddRoot appends a root region.
func (e *Engine) AddRoot(r Root) { e.core.AddRoot(r) }

// DeleteRoot removes the root matching addr, if any.
func (e *Engine) DeleteRoot(addr uintptr) { e.core.DeleteRoot(addr) }

// Alloc reserves a size-byte block with the given finalizer.
func (e *Engine) Alloc(size int, fin Finalizer) (uintptr, error) {
	base, err := e.core.Malloc(size, fin)
	if err != nil {
		return 0, err
	}
	e.sched.UpdateAllocationStats(uint64(size), 1)
	return base, nil
}

// AllocDefault reserves a size-byte block with no finalizer.
func (e *Engine) AllocDefault(size int) (uintptr, error) { return e.Alloc(size, nil) }

// Calloc reserves a zero-filled block of n*size bytes.
func (e *Engine) Calloc(n, size int, fin Finalizer) (uintptr, error) {
	base, err := e.core.Calloc(n, size, fin)
	if err != nil {
		return 0, err
	}
	e.sched.UpdateAllocationStats(uint64(n*size), 1)
	return base, nil
}

// CallocDefault reserves a zero-filled block of n*size bytes with no
// finalizer.
func (e *Engine) CallocDefault(n, size int) (uintptr, error) { return e.Calloc(n, size, nil) }

// Realloc resizes the block at ptr, preserving its overlapping contents.
func (e *Engine) Realloc(ptr uintptr, size int, fin Finalizer) (uintptr, error) {
	base, err := e.core.Realloc(ptr, size, fin)
	if err != nil {
		return 0, err
	}
	e.sched.UpdateAllocationStats(uint64(size), 1)
	return base, nil
}

// Free releases ptr if it is a known allocation's base; unknown pointers
// are a silent no-op.
func (e *Engine) Free(ptr uintptr) { e.core.Free(ptr) }

// FreeAll finalizes and releases every tracked allocation.
func (e *Engine) FreeAll() { e.core.FreeAll() }

// Collect requests a collection and returns immediately; the scheduler's
// worker goroutine runs it asynchronously. A registered mutator must never
// call this from inside its own stop-the-world handshake — use WaitCollect
// or CollectBlocked to wait for completion instead of blocking here.
func (e *Engine) Collect() { e.sched.TriggerCollect() }

// WaitCollect blocks until the next collection (however triggered)
// completes.
func (e *Engine) WaitCollect() { e.sched.WaitCollect() }

// CollectBlocked requests a collection and waits for it to complete.
func (e *Engine) CollectBlocked() {
	e.sched.TriggerCollect()
	e.sched.WaitCollect()
}

// EnableAuto starts the background scheduler.
func (e *Engine) EnableAuto() { e.sched.Start() }

// DisableAuto pauses the background scheduler without losing it; see
// RegisterThread for the corresponding coordination-level handshake. The
// registered-thread set is left untouched by design.
func (e *Engine) DisableAuto() { e.sched.Stop() }

// GetBytesThreshold returns the pacer's configured byte threshold.
func (e *Engine) GetBytesThreshold() uint64 { return e.sched.GetThresholdBytes() }

// GetCallsThreshold returns the pacer's configured call threshold.
func (e *Engine) GetCallsThreshold() uint64 { return e.sched.GetThresholdCalls() }

// SetBytesThreshold updates the pacer's byte threshold.
func (e *Engine) SetBytesThreshold(v uint64) { e.sched.SetThresholdBytes(v) }

// SetCallsThreshold updates the pacer's call threshold.
func (e *Engine) SetCallsThreshold(v uint64) { e.sched.SetThresholdCalls(v) }

// SetCollectInterval updates the scheduler's wake interval.
func (e *Engine) SetCollectInterval(d time.Duration) { e.sched.SetCollectionInterval(d) }

// ResetInfo clears the pacer's accumulated totals and rates.
func (e *Engine) ResetInfo() { e.sched.ResetStats() }

// RegisterThread enrolls the calling mutator in the stop-the-world
// handshake; it must be deregistered with DeregisterThread before it exits.
func (e *Engine) RegisterThread() ThreadHandle { return e.core.RegisterThread() }

// DeregisterThread withdraws a previously registered mutator.
func (e *Engine) DeregisterThread(h ThreadHandle) { e.core.DeregisterThread(h) }

// Safepoint cooperatively yields to a pending stop-the-world. Hosts should
// call this in long compute loops that do not otherwise allocate.
func (e *Engine) Safepoint() { e.core.Safepoint() }

// Stats returns a snapshot of engine counters, used both for ad hoc
// diagnostics and as the payload served over telemetry.
func (e *Engine) Stats() map[string]interface{} {
	autoCollect := float64(0)
	if e.sched.IsRunning() {
		autoCollect = 1
	}

	e.sysMu.RLock()
	sys := e.sysSample
	e.sysMu.RUnlock()

	return map[string]interface{}{
		"live_allocations": float64(e.core.Len()),
		"bytes_threshold":  float64(e.sched.GetThresholdBytes()),
		"calls_threshold":  float64(e.sched.GetThresholdCalls()),
		"generation":       float64(e.core.Generation()),
		"auto_collect":     autoCollect,
		"cpu_percent":      sys.CPUPercent,
		"mem_used_percent": sys.MemUsedPercent,
		"mem_available_mb": float64(sys.MemAvailableMB),
		"mem_total_mb":     float64(sys.MemTotalMB),
		"engine_version":   EngineVersion,
	}
}

// StartTelemetry starts the gRPC telemetry server, if HEAPKEEPER_TELEMETRY_ADDR
// was configured.
func (e *Engine) StartTelemetry() error {
	if e.tele == nil {
		return errors.New("heapkeeper: telemetry address not configured")
	}
	return e.tele.Start()
}

// StopTelemetry stops the gRPC telemetry server, if running.
func (e *Engine) StopTelemetry() {
	if e.tele != nil {
		e.tele.Stop()
	}
}

// Shutdown stops the scheduler (joining its worker) and releases every
// tracked allocation. Safe to call once per Engine, at process teardown.
func (e *Engine) Shutdown() {
	e.sysCancel()
	e.StopTelemetry()
	e.sched.Shutdown()
	e.core.FreeAll()
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide singleton Engine, lazily constructed on
// first use from environment configuration.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine = NewEngine(nil, nil)
	})
	return defaultEngine
}

// The package-level functions below delegate to Default(), mirroring the
// host-facing C-style entry points: init, alloc, calloc, realloc, free,
// free_all, collect, wait_collect, collect_blocked, add_root, delete_root,
// the threshold/interval tuners, reset_info, enable_auto/disable_auto,
// safepoint, and register_thread/deregister_thread.

func Init(roots []Root) { Default().Init(roots) }
func Alloc(size int, fin Finalizer) (uintptr, error) { return Default().Alloc(size, fin) }
func AllocDefault(size int) (uintptr, error) { return Default().AllocDefault(size) }
func Calloc(n, size int, fin Finalizer) (uintptr, error) {
	return Default().Calloc(n, size, fin)
}
func CallocDefault(n, size int) (uintptr, error) { return Default().CallocDefault(n, size) }
func Realloc(ptr uintptr, size int, fin Finalizer) (uintptr, error) {
	return Default().Realloc(ptr, size, fin)
}
func Free(ptr uintptr)        { Default().Free(ptr) }
func FreeAll()                { Default().FreeAll() }
func Collect()                { Default().Collect() }
func WaitCollect()             { Default().WaitCollect() }
func CollectBlocked()          { Default().CollectBlocked() }
func AddRoot(r Root)           { Default().AddRoot(r) }
func DeleteRoot(addr uintptr)  { Default().DeleteRoot(addr) }

func GetBytesThreshold() uint64          { return Default().GetBytesThreshold() }
func GetCallsThreshold() uint64          { return Default().GetCallsThreshold() }
func SetBytesThreshold(v uint64)         { Default().SetBytesThreshold(v) }
func SetCallsThreshold(v uint64)         { Default().SetCallsThreshold(v) }
func SetCollectInterval(d time.Duration) { Default().SetCollectInterval(d) }
func ResetInfo()                         { Default().ResetInfo() }

func EnableAuto()  { Default().EnableAuto() }
func DisableAuto() { Default().DisableAuto() }

func Safepoint()                      { Default().Safepoint() }
func RegisterThread() ThreadHandle    { return Default().RegisterThread() }
func DeregisterThread(h ThreadHandle) { Default().DeregisterThread(h) }
