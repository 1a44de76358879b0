// Package source provides frame producers for the pipeline.
package source

import (
	"fmt"
	"time"

	iface "VisionFlow/interface"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30.0
)

// Config describes a synthetic camera.
type Config struct {
	Width  int
	Height int
	// FPS is the target frame rate, must be > 0.
	FPS float64
	// MaxFrames > 0 makes the source finite: NextFrame returns
	// iface.ErrSourceExhausted after that many frames (test/demo mode).
	MaxFrames uint64
}

// Synthetic generates BGR24 test frames at a fixed rate. It replaces a
// real capture device: each frame carries a moving gradient so downstream
// consumers see changing pixel data. Not safe for concurrent use; one
// goroutine owns a source.
type Synthetic struct {
	cfg      Config
	interval time.Duration
	seq      uint64
	next     time.Time
}

// NewSynthetic validates cfg and returns a ready source.
func NewSynthetic(cfg Config) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("frame rate must be > 0, got %f", cfg.FPS)
	}
	return &Synthetic{
		cfg:      cfg,
		interval: time.Duration(float64(time.Second) / cfg.FPS),
	}, nil
}

// NextFrame blocks until the next frame is due, then returns it with a
// freshly allocated pixel buffer. Sequence numbers are strictly
// increasing, starting at 1.
func (s *Synthetic) NextFrame() (iface.Frame, error) {
	if s.cfg.MaxFrames > 0 && s.seq >= s.cfg.MaxFrames {
		return iface.Frame{}, iface.ErrSourceExhausted
	}

	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	if wait := s.next.Sub(now); wait > 0 {
		time.Sleep(wait)
	}
	s.next = s.next.Add(s.interval)

	s.seq++
	return iface.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Data:      s.renderPattern(s.seq),
	}, nil
}

// renderPattern fills a BGR24 buffer with a gradient shifted by seq.
func (s *Synthetic) renderPattern(seq uint64) []byte {
	w, h := s.cfg.Width, s.cfg.Height
	data := make([]byte, w*h*3)
	shift := byte(seq)
	for y := 0; y < h; y++ {
		row := y * w * 3
		g := byte(y * 255 / h)
		for x := 0; x < w; x++ {
			i := row + x*3
			data[i] = byte(x*255/w) + shift // B
			data[i+1] = g                   // G
			data[i+2] = shift               // R
		}
	}
	return data
}
