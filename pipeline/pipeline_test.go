package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"VisionFlow/detector"
	iface "VisionFlow/interface"
	"VisionFlow/sink"
	"VisionFlow/source"
)

func newSource(t *testing.T, maxFrames uint64) *source.Synthetic {
	t.Helper()
	src, err := source.NewSynthetic(source.Config{
		Width: 32, Height: 24, FPS: 2000, MaxFrames: maxFrames,
	})
	assert.NoError(t, err)
	return src
}

func drainEvents(p *Pipeline) []Event {
	var evs []Event
	for {
		select {
		case ev := <-p.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func waitStopped(t *testing.T, p *Pipeline, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatalf("pipeline did not stop within %v (state=%s)", timeout, StateName(p.State()))
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	collector := sink.NewCollector(0)
	p, err := New(Config{ChannelCapacity: 4},
		newSource(t, 10), detector.NewStub(nil, 3), collector)
	assert.NoError(t, err)
	assert.Equal(t, StateIdle, p.State())

	assert.NoError(t, p.Start())
	waitStopped(t, p, 5*time.Second)

	assert.Equal(t, StateStopped, p.State())
	batches := collector.Batches()
	assert.Len(t, batches, 10, "every produced frame must reach the sink")
	for i, b := range batches {
		assert.Equal(t, uint64(i+1), b.Seq(), "sink order must match source order")
	}
}

func TestPipeline_StubDeterminism(t *testing.T) {
	run := func() []iface.DetectionBatch {
		c := sink.NewCollector(0)
		p, err := New(Config{}, newSource(t, 8), detector.NewStub(nil, 4), c)
		assert.NoError(t, err)
		assert.NoError(t, p.Start())
		waitStopped(t, p, 5*time.Second)
		return c.Batches()
	}
	first := run()
	second := run()
	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Detections, second[i].Detections,
			"stub output for seq %d must be identical across runs", first[i].Seq())
	}
}

func TestPipeline_InvalidState(t *testing.T) {
	t.Run("Test start while running", func(t *testing.T) {
		p, _ := New(Config{}, newSource(t, 0), detector.NewStub(nil, 2), sink.NewCollector(4))
		assert.NoError(t, p.Start())
		err := p.Start()
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Contains(t, []int{StateRunning, StateDraining}, p.State())

		assert.NoError(t, p.Stop())
		waitStopped(t, p, 5*time.Second)
	})

	t.Run("Test start after stopped", func(t *testing.T) {
		p, _ := New(Config{}, newSource(t, 2), detector.NewStub(nil, 2), sink.NewCollector(0))
		assert.NoError(t, p.Start())
		waitStopped(t, p, 5*time.Second)
		assert.ErrorIs(t, p.Start(), ErrInvalidState)
	})

	t.Run("Test stop while idle", func(t *testing.T) {
		p, _ := New(Config{}, newSource(t, 1), detector.NewStub(nil, 2), sink.NewCollector(0))
		assert.ErrorIs(t, p.Stop(), ErrInvalidState)
		assert.Equal(t, StateIdle, p.State())
	})

	t.Run("Test stop is idempotent once running", func(t *testing.T) {
		p, _ := New(Config{}, newSource(t, 0), detector.NewStub(nil, 2), sink.NewCollector(4))
		assert.NoError(t, p.Start())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
		waitStopped(t, p, 5*time.Second)
		assert.NoError(t, p.Stop())
	})
}

// slowSink paces consumption so frames pile up in the stage queues.
type slowSink struct {
	*sink.Collector
	delay time.Duration
}

func (s *slowSink) Consume(batch iface.DetectionBatch) error {
	time.Sleep(s.delay)
	return s.Collector.Consume(batch)
}

func TestPipeline_StopDrainsInFlight(t *testing.T) {
	slow := &slowSink{Collector: sink.NewCollector(0), delay: 5 * time.Millisecond}
	p, err := New(Config{ChannelCapacity: 4},
		newSource(t, 0), detector.NewStub(nil, 2), slow)
	assert.NoError(t, err)

	assert.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond) // let the queues fill
	assert.NoError(t, p.Stop())
	waitStopped(t, p, 10*time.Second)

	batches := slow.Batches()
	assert.NotEmpty(t, batches)
	// No accepted frame may vanish mid-flight: the sink must have seen a
	// gap-free prefix 1..N of the source sequence.
	for i, b := range batches {
		assert.Equal(t, uint64(i+1), b.Seq())
	}
}

// stallSource produces two quick frames, then stalls well past any
// configured receive timeout.
type stallSource struct {
	seq   uint64
	stall time.Duration
}

func (s *stallSource) NextFrame() (iface.Frame, error) {
	if s.seq >= 2 {
		time.Sleep(s.stall)
	}
	s.seq++
	return iface.Frame{
		Seq: s.seq, Timestamp: time.Now(),
		Width: 8, Height: 8, Data: make([]byte, 8*8*3),
	}, nil
}

func TestPipeline_TimeoutEscalation(t *testing.T) {
	collector := sink.NewCollector(0)
	p, err := New(Config{ChannelCapacity: 2, ReceiveTimeout: 25 * time.Millisecond},
		&stallSource{stall: 400 * time.Millisecond}, detector.NewStub(nil, 2), collector)
	assert.NoError(t, err)

	assert.NoError(t, p.Start())
	waitStopped(t, p, 10*time.Second)

	assert.Equal(t, StateStopped, p.State())
	// The two frames produced before the stall still reach the sink.
	assert.GreaterOrEqual(t, collector.Count(), 2)

	var timeouts int
	var escalated bool
	for _, ev := range drainEvents(p) {
		if ev.Kind == EventTimeout {
			timeouts++
			if errors.Is(ev.Err, ErrReceiveTimeout) {
				escalated = true
			}
		}
	}
	assert.GreaterOrEqual(t, timeouts, 2, "first timeout retried, second escalates")
	assert.True(t, escalated)
}

// failingDetector always errors; the pipeline must absorb it.
type failingDetector struct{}

func (failingDetector) Detect(iface.Frame) ([]iface.Detection, error) {
	return nil, errors.New("backend unavailable")
}

func TestPipeline_InferenceErrorNonFatal(t *testing.T) {
	collector := sink.NewCollector(0)
	p, err := New(Config{}, newSource(t, 5), failingDetector{}, collector)
	assert.NoError(t, err)

	assert.NoError(t, p.Start())
	waitStopped(t, p, 5*time.Second)

	batches := collector.Batches()
	assert.Len(t, batches, 5, "failed inference still emits an empty batch per frame")
	for _, b := range batches {
		assert.Empty(t, b.Detections)
	}

	var inferenceErrors int
	for _, ev := range drainEvents(p) {
		if ev.Kind == EventInferenceError {
			inferenceErrors++
		}
	}
	assert.Equal(t, 5, inferenceErrors)
}

func TestPipeline_Stats(t *testing.T) {
	p, _ := New(Config{ChannelCapacity: 6}, newSource(t, 3), detector.NewStub(nil, 2), sink.NewCollector(0))
	stats := p.Stats()
	assert.Equal(t, "idle", stats.State)
	assert.Equal(t, 6, stats.QueueCapacity)

	assert.NoError(t, p.Start())
	waitStopped(t, p, 5*time.Second)
	assert.Equal(t, "stopped", p.Stats().State)
}
