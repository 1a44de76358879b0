// Package pipeline composes a frame source, a detector and a result sink
// into a supervised run loop. The three stages run as goroutines joined
// by bounded channels, so a slow stage backpressures everything upstream
// of it. Shutdown is always a drain: producers stop, channels close, and
// every item already accepted flows through to the sink before the
// pipeline reports Stopped.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"VisionFlow/channel"
	iface "VisionFlow/interface"
	"VisionFlow/logger"
	"VisionFlow/monitor"
)

// Pipeline states.
const (
	StateIdle     = 0x0001
	StateRunning  = 0x0002
	StateDraining = 0x0003
	StateStopped  = 0x0004
)

// ErrInvalidState is returned by Start/Stop when the pipeline is not in a
// state that allows the transition.
var ErrInvalidState = errors.New("invalid pipeline state for operation")

// ErrReceiveTimeout marks a stalled stage read that exhausted its retry.
var ErrReceiveTimeout = errors.New("stage receive timed out twice")

// StateName returns a readable name for a state constant.
func StateName(s int) string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(0x%04x)", s)
	}
}

// Config tunes the pipeline wiring.
type Config struct {
	// ChannelCapacity bounds the two stage queues. <1 selects
	// channel.DefaultCapacity.
	ChannelCapacity int
	// ReceiveTimeout, when >0, converts a stalled stage read into a
	// Timeout event. The read is retried once; a second timeout drains
	// the pipeline.
	ReceiveTimeout time.Duration
}

// Pipeline supervises the source → detector → sink flow.
type Pipeline struct {
	cfg  Config
	src  iface.Source
	det  iface.Detector
	sink iface.Sink

	frames  *channel.Channel[iface.Frame]
	batches *channel.Channel[iface.DetectionBatch]

	mu    sync.Mutex
	state int

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New wires a pipeline in the Idle state.
func New(cfg Config, src iface.Source, det iface.Detector, sink iface.Sink) (*Pipeline, error) {
	if src == nil || det == nil || sink == nil {
		return nil, fmt.Errorf("pipeline needs source, detector and sink")
	}
	capacity := cfg.ChannelCapacity
	if capacity < 1 {
		capacity = channel.DefaultCapacity
	}
	frames, err := channel.New[iface.Frame](capacity)
	if err != nil {
		return nil, err
	}
	batches, err := channel.New[iface.DetectionBatch](capacity)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:     cfg,
		src:     src,
		det:     det,
		sink:    sink,
		frames:  frames,
		batches: batches,
		state:   StateIdle,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}, nil
}

// State returns a snapshot of the current state.
func (p *Pipeline) State() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start transitions Idle→Running and spawns the stage goroutines. Calling
// Start on a non-idle pipeline fails with ErrInvalidState and changes
// nothing.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, StateName(state))
	}
	p.state = StateRunning
	p.mu.Unlock()
	p.emit(Event{Kind: EventStateChange, State: StateRunning})
	logger.Log().Info("pipeline started",
		zap.Int("channelCapacity", p.frames.Cap()),
		zap.Duration("receiveTimeout", p.cfg.ReceiveTimeout),
	)

	p.wg.Add(3)
	go p.sourceLoop()
	go p.detectLoop()
	go p.sinkLoop()

	go func() {
		p.wg.Wait()
		p.setState(StateStopped)
		close(p.done)
		logger.Log().Info("pipeline stopped")
	}()
	return nil
}

// Stop transitions Running→Draining: the source stops accepting work, the
// frame channel closes, and in-flight items flow through to the sink.
// Stop on an Idle pipeline is ErrInvalidState; on a pipeline already
// draining or stopped it is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return fmt.Errorf("%w: stop while idle", ErrInvalidState)
	}
	p.mu.Unlock()
	p.beginDrain(nil)
	return nil
}

// Wait blocks until the pipeline has fully stopped.
func (p *Pipeline) Wait() {
	<-p.done
}

// Done exposes the stopped signal for select-based callers.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Stats reports live queue depths for observability surfaces.
func (p *Pipeline) Stats() Stats {
	return Stats{
		State:         StateName(p.State()),
		FrameQueue:    p.frames.Len(),
		BatchQueue:    p.batches.Len(),
		QueueCapacity: p.frames.Cap(),
	}
}

// Stats is a snapshot of pipeline runtime state.
type Stats struct {
	State         string `json:"state"`
	FrameQueue    int    `json:"frameQueue"`
	BatchQueue    int    `json:"batchQueue"`
	QueueCapacity int    `json:"queueCapacity"`
}

func (p *Pipeline) setState(state int) {
	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.mu.Unlock()
	p.emit(Event{Kind: EventStateChange, State: state})
}

// beginDrain moves Running→Draining exactly once and closes the frame
// channel so the source and detector wind down. reason is nil for an
// operator Stop.
func (p *Pipeline) beginDrain(reason error) {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateDraining
	p.mu.Unlock()

	if reason != nil {
		logger.Log().Warn("pipeline draining", zap.Error(reason))
	} else {
		logger.Log().Info("pipeline draining")
	}
	p.emit(Event{Kind: EventStateChange, State: StateDraining, Err: reason})
	p.frames.Close()
}

// sourceLoop pulls frames from the source and feeds the frame channel
// until the source fails or the pipeline drains.
func (p *Pipeline) sourceLoop() {
	defer p.wg.Done()
	defer p.frames.Close()
	for {
		frame, err := p.src.NextFrame()
		if err != nil {
			if errors.Is(err, iface.ErrSourceExhausted) {
				logger.Log().Info("frame source exhausted, draining")
			}
			p.beginDrain(err)
			return
		}
		if err := p.frames.Send(frame); err != nil {
			// Channel closed underneath us: drain in progress.
			return
		}
		monitor.FramesProduced.Inc()
		monitor.FrameQueueDepth.Set(float64(p.frames.Len()))
	}
}

// detectLoop consumes frames, runs the detector and forwards batches.
// Inference failures are absorbed: the batch goes out empty and an
// InferenceError event is emitted.
func (p *Pipeline) detectLoop() {
	defer p.wg.Done()
	defer p.batches.Close()
	for {
		frame, err := receive(p, p.frames)
		if err != nil {
			if errors.Is(err, channel.ErrTimeout) {
				continue // drain already triggered by receive
			}
			return // ErrClosed: frames fully drained
		}

		start := time.Now()
		dets, derr := p.det.Detect(frame)
		elapsed := time.Since(start)
		if derr != nil {
			monitor.InferenceErrors.Inc()
			logger.Log().Warn("inference error, emitting empty batch",
				zap.Uint64("seq", frame.Seq), zap.Error(derr))
			p.emit(Event{Kind: EventInferenceError, Seq: frame.Seq, Err: derr})
			dets = nil
		}

		batch := iface.DetectionBatch{Frame: frame, Detections: dets, Elapsed: elapsed}
		if err := p.batches.Send(batch); err != nil {
			return
		}
		monitor.BatchQueueDepth.Set(float64(p.batches.Len()))
	}
}

// sinkLoop drains batches into the sink. Sink errors are reported but do
// not stop the flow; the delivery guarantee is the sink's to waive.
func (p *Pipeline) sinkLoop() {
	defer p.wg.Done()
	for {
		batch, err := receive(p, p.batches)
		if err != nil {
			if errors.Is(err, channel.ErrTimeout) {
				continue
			}
			return
		}
		if err := p.sink.Consume(batch); err != nil {
			logger.Log().Warn("sink error", zap.Uint64("seq", batch.Seq()), zap.Error(err))
			p.emit(Event{Kind: EventSinkError, Seq: batch.Seq(), Err: err})
			continue
		}
		monitor.BatchesDelivered.Inc()
	}
}

// receive reads one item from ch, applying the configured stall policy: a
// timed-out read is reported and retried once, a second timeout drains
// the pipeline. With no timeout configured it blocks indefinitely.
// Free function because methods cannot take type parameters.
func receive[T any](p *Pipeline, ch *channel.Channel[T]) (T, error) {
	if p.cfg.ReceiveTimeout <= 0 {
		return ch.Receive()
	}
	item, err := ch.ReceiveTimeout(p.cfg.ReceiveTimeout)
	if !errors.Is(err, channel.ErrTimeout) {
		return item, err
	}
	p.emit(Event{Kind: EventTimeout, Err: err})
	logger.Log().Warn("stage receive timed out, retrying once",
		zap.Duration("timeout", p.cfg.ReceiveTimeout))

	item, err = ch.ReceiveTimeout(p.cfg.ReceiveTimeout)
	if !errors.Is(err, channel.ErrTimeout) {
		return item, err
	}
	p.emit(Event{Kind: EventTimeout, Err: ErrReceiveTimeout})
	p.beginDrain(ErrReceiveTimeout)
	return item, err
}

func (p *Pipeline) emit(ev Event) {
	ev.At = time.Now()
	select {
	case p.events <- ev:
	default:
		// Observability never blocks the pipeline; drop when full.
	}
}

// Events exposes the observability stream. Events are dropped, never
// blocked on, when the consumer lags.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}
