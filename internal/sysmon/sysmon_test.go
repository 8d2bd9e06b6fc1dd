package sysmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsPlausibleSample(t *testing.T) {
	s, err := Read(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.MemTotalMB, uint64(0))
	assert.GreaterOrEqual(t, s.MemUsedPercent, 0.0)
	assert.False(t, s.Timestamp.IsZero())
}

func TestMonitorDeliversSamplesUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	samples := make(chan Sample, 8)
	done := make(chan struct{})
	go func() {
		Monitor(ctx, 30*time.Millisecond, func(s Sample) {
			select {
			case samples <- s:
			default:
			}
		})
		close(done)
	}()

	<-done
	select {
	case <-samples:
	default:
		t.Fatal("expected at least one sample before context expired")
	}
}
