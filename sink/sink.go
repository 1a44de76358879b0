// Package sink provides DetectionBatch consumers: logging, on-disk
// rendering, transport forwarding, and an in-memory collector for tests
// and demos. Sinks compose through Multi.
package sink

import (
	"sync"

	"go.uber.org/zap"

	iface "VisionFlow/interface"
	"VisionFlow/logger"
)

// Collector retains consumed batches in memory, bounded by limit (0 =
// unbounded). It is the assertion point in tests and the /api stats
// backing store in demos.
type Collector struct {
	mu      sync.Mutex
	batches []iface.DetectionBatch
	limit   int
}

// NewCollector creates a collector keeping at most limit batches.
func NewCollector(limit int) *Collector {
	return &Collector{limit: limit}
}

// Consume implements iface.Sink.
func (c *Collector) Consume(batch iface.DetectionBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	if c.limit > 0 && len(c.batches) > c.limit {
		c.batches = c.batches[len(c.batches)-c.limit:]
	}
	return nil
}

// Batches returns a copy of everything consumed so far.
func (c *Collector) Batches() []iface.DetectionBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]iface.DetectionBatch, len(c.batches))
	copy(out, c.batches)
	return out
}

// Count returns how many batches were consumed.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// Logger writes one structured log line per batch.
type Logger struct{}

// NewLogger creates a logging sink.
func NewLogger() *Logger {
	return &Logger{}
}

// Consume implements iface.Sink.
func (l *Logger) Consume(batch iface.DetectionBatch) error {
	logger.Log().Info("batch",
		zap.Uint64("seq", batch.Seq()),
		zap.Int("detections", len(batch.Detections)),
		zap.Duration("elapsed", batch.Elapsed),
	)
	return nil
}

// Multi fans one batch out to several sinks in order. All sinks see the
// batch even if an earlier one fails; the first error is returned.
type Multi struct {
	sinks []iface.Sink
}

// NewMulti composes sinks; nil entries are skipped.
func NewMulti(sinks ...iface.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Consume implements iface.Sink.
func (m *Multi) Consume(batch iface.DetectionBatch) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Consume(batch); err != nil && first == nil {
			first = err
		}
	}
	return first
}
