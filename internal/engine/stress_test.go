package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEngine_ConcurrentMutators registers many goroutines as mutator
// threads that allocate garbage and call Safepoint in a tight loop, while a
// separate goroutine drives repeated Collect calls. It exercises the
// coordinator's stop-the-world handshake under real concurrency: every
// mutator must observe shouldStop and park, every Collect must see every
// registered thread reach the safepoint, and the whole thing must finish
// without deadlocking or racing (run with -race).
func TestEngine_ConcurrentMutators(t *testing.T) {
	const (
		numMutators      = 16
		allocsPerMutator = 200
	)

	e := newTestEngine()
	e.Init(nil)

	var collections atomic.Int64
	stopCollector := make(chan struct{})
	var collectorWG sync.WaitGroup
	collectorWG.Add(1)
	go func() {
		defer collectorWG.Done()
		for {
			select {
			case <-stopCollector:
				return
			default:
				e.Collect()
				collections.Add(1)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var mutatorsWG sync.WaitGroup
	for i := 0; i < numMutators; i++ {
		mutatorsWG.Add(1)
		go func() {
			defer mutatorsWG.Done()
			h := e.RegisterThread()
			defer e.DeregisterThread(h)

			for j := 0; j < allocsPerMutator; j++ {
				_, err := e.Malloc(32, nil)
				require.NoError(t, err)
				e.Safepoint()
			}
		}()
	}

	mutatorsWG.Wait()
	close(stopCollector)
	collectorWG.Wait()

	require.Greater(t, collections.Load(), int64(0))
	require.Zero(t, e.coord.ThreadCount(), "all mutators must have deregistered")

	e.FreeAll()
	require.Equal(t, 0, e.Len())
}
