// Package pacer implements the adaptive allocation-rate pacer: an EWMA
// smoothed rate estimator that decides when the scheduler should trigger a
// collection, either because accumulated allocation has crossed a fixed
// threshold or because the instantaneous rate has spiked well above the
// smoothed baseline.
package pacer

import (
	"sync"
	"time"
)

// Defaults mirror the reference pacer's tuning constants.
const (
	DefaultAlpha           = 0.2
	DefaultPeakFactor      = 2.0
	DefaultUpdateFrequency = 20
)

// Pacer accumulates allocation activity and answers ShouldTrigger. All
// methods are safe for concurrent use.
type Pacer struct {
	mu sync.Mutex

	thresholdBytes uint64
	thresholdCalls uint64

	alpha           float64
	peakFactor      float64
	updateFrequency uint64

	smoothedRateBytes      float64
	smoothedRateCalls      float64
	instantaneousRateBytes float64
	instantaneousRateCalls float64

	accumulationCount uint64
	accumulatedBytes  uint64
	accumulatedCalls  uint64

	totalBytes uint64
	totalCalls uint64

	lastUpdate time.Time
}

// New constructs a Pacer with the reference defaults for alpha, peak factor,
// and update frequency.
func New(thresholdBytes, thresholdCalls uint64) *Pacer {
	return NewWithParams(thresholdBytes, thresholdCalls, DefaultAlpha, DefaultPeakFactor, DefaultUpdateFrequency)
}

// NewWithParams constructs a Pacer with explicit tuning parameters.
func NewWithParams(thresholdBytes, thresholdCalls uint64, alpha, peakFactor float64, updateFrequency uint64) *Pacer {
	return &Pacer{
		thresholdBytes:  thresholdBytes,
		thresholdCalls:  thresholdCalls,
		alpha:           alpha,
		peakFactor:      peakFactor,
		updateFrequency: updateFrequency,
		lastUpdate:      time.Now(),
	}
}

// Update folds allocatedBytes and allocationCalls into the running totals.
// The smoothed and instantaneous rates only refresh once updateFrequency
// calls have accumulated, matching the batched-sampling behavior of the
// reference pacer.
func (p *Pacer) Update(allocatedBytes, allocationCalls uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalBytes += allocatedBytes
	p.accumulatedBytes += allocatedBytes

	p.totalCalls += allocationCalls
	p.accumulatedCalls += allocationCalls
	p.accumulationCount++

	if p.accumulationCount < p.updateFrequency {
		return
	}

	now := time.Now()
	elapsedMs := float64(now.Sub(p.lastUpdate).Milliseconds())
	if elapsedMs <= 0 {
		elapsedMs = 1
	}

	p.instantaneousRateBytes = float64(p.accumulatedBytes) * 1000.0 / elapsedMs
	p.instantaneousRateCalls = float64(p.accumulatedCalls) * 1000.0 / elapsedMs

	p.smoothedRateBytes = p.alpha*p.instantaneousRateBytes + (1-p.alpha)*p.smoothedRateBytes
	p.smoothedRateCalls = p.alpha*p.instantaneousRateCalls + (1-p.alpha)*p.smoothedRateCalls

	p.lastUpdate = now
	p.accumulationCount = 0
	p.accumulatedBytes = 0
	p.accumulatedCalls = 0
}

// ShouldTrigger reports whether a collection should run now: either the
// steady-state ratio test (accumulated total over threshold) or the burst
// test (instantaneous rate well above the smoothed baseline).
func (p *Pacer) ShouldTrigger() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ratioBytes := float64(p.totalBytes) / float64(p.thresholdBytes)
	ratioCalls := float64(p.totalCalls) / float64(p.thresholdCalls)
	baseTriggerRatio := ratioBytes
	if ratioCalls > baseTriggerRatio {
		baseTriggerRatio = ratioCalls
	}

	regularTrigger := baseTriggerRatio >= 1.0
	peakTrigger := p.instantaneousRateBytes > p.peakFactor*p.smoothedRateBytes ||
		p.instantaneousRateCalls > p.peakFactor*p.smoothedRateCalls
	return regularTrigger || peakTrigger
}

// Reset clears all accumulated and smoothed state after a collection runs,
// leaving the configured thresholds and tuning parameters untouched.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.smoothedRateBytes = 0
	p.smoothedRateCalls = 0
	p.instantaneousRateBytes = 0
	p.instantaneousRateCalls = 0
	p.accumulationCount = 0
	p.accumulatedBytes = 0
	p.accumulatedCalls = 0
	p.totalBytes = 0
	p.totalCalls = 0
	p.lastUpdate = time.Now()
}

// ThresholdBytes returns the configured byte threshold.
func (p *Pacer) ThresholdBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thresholdBytes
}

// ThresholdCalls returns the configured call threshold.
func (p *Pacer) ThresholdCalls() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thresholdCalls
}

// SetThresholdBytes updates the byte threshold used by ShouldTrigger.
func (p *Pacer) SetThresholdBytes(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thresholdBytes = v
}

// SetThresholdCalls updates the call threshold used by ShouldTrigger.
func (p *Pacer) SetThresholdCalls(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thresholdCalls = v
}
