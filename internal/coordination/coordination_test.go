package coordination

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafepointFastPathNoStop(t *testing.T) {
	c := New()
	h := c.RegisterThread()
	defer c.DeregisterThread(h)

	done := make(chan struct{})
	go func() {
		c.Safepoint()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("safepoint blocked with no stop requested")
	}
}

func TestStopWorldWaitsForAllRegisteredThreads(t *testing.T) {
	c := New()
	const n = 5
	var wg sync.WaitGroup
	parked := make(chan struct{}, n)
	release := make(chan struct{})

	for i := 0; i < n; i++ {
		h := c.RegisterThread()
		wg.Add(1)
		go func(h ThreadHandle) {
			defer wg.Done()
			<-release
			c.Safepoint()
		}(h)
	}
	_ = parked

	go func() {
		close(release)
	}()

	c.StopWorld()
	assert.Equal(t, n, c.ThreadCount())
	c.ResumeWorld()
	wg.Wait()
}

func TestDeregisterRemovesFromCount(t *testing.T) {
	c := New()
	h1 := c.RegisterThread()
	h2 := c.RegisterThread()
	assert.Equal(t, 2, c.ThreadCount())

	c.DeregisterThread(h1)
	assert.Equal(t, 1, c.ThreadCount())

	c.DeregisterThread(h2)
	assert.Equal(t, 0, c.ThreadCount())
}

func TestResumeWorldWakesParkedThreads(t *testing.T) {
	c := New()
	h := c.RegisterThread()
	defer c.DeregisterThread(h)

	reached := make(chan struct{})
	resumed := make(chan struct{})
	go func() {
		c.shouldStop.Store(true)
		close(reached)
		c.Safepoint()
		close(resumed)
	}()

	<-reached
	for c.stopped.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.ResumeWorld()

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("resumeworld did not wake the parked thread")
	}
}
