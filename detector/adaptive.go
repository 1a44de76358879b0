package detector

import (
	"time"

	iface "VisionFlow/interface"
	"VisionFlow/monitor"
)

// Adaptive frame-skip thresholds. When a wrapped detector takes longer
// than slowThreshold per frame the skip interval grows (up to
// maxInterval); when it finishes under fastThreshold the interval shrinks
// back toward 1.
const (
	slowThreshold = 150 * time.Millisecond
	fastThreshold = 50 * time.Millisecond
	maxInterval   = 10
)

// Adaptive wraps a detector with load-shedding: when inference cannot
// keep up with the frame rate, only every Nth frame is actually run and
// the rest yield an empty result. Frames themselves still flow through,
// so ordering and delivery guarantees are unchanged.
//
// Not safe for concurrent use; the detect stage owns it.
type Adaptive struct {
	inner    iface.Detector
	interval int
	counter  uint64
}

// NewAdaptive wraps inner. The initial interval is 1 (process every frame).
func NewAdaptive(inner iface.Detector) *Adaptive {
	return &Adaptive{inner: inner, interval: 1}
}

// Interval returns the current skip interval (1 = no skipping).
func (a *Adaptive) Interval() int {
	return a.interval
}

// Detect runs the wrapped detector on every interval-th frame and adjusts
// the interval from the observed latency.
func (a *Adaptive) Detect(frame iface.Frame) ([]iface.Detection, error) {
	process := a.counter%uint64(a.interval) == 0
	a.counter++
	if !process {
		monitor.FramesSkipped.Inc()
		return nil, nil
	}

	start := time.Now()
	dets, err := a.inner.Detect(frame)
	elapsed := time.Since(start)

	switch {
	case elapsed > slowThreshold && a.interval < maxInterval:
		a.interval++
	case elapsed < fastThreshold && a.interval > 1:
		a.interval--
	}
	return dets, err
}
