// Package detector provides the detection stage implementations: a
// deterministic stub for tests and demos, and an adapter that validates
// results coming from a real inference backend.
package detector

import (
	"math/rand"

	iface "VisionFlow/interface"
)

// DefaultMaxPerFrame bounds the synthetic detections the stub emits per frame.
const DefaultMaxPerFrame = 4

// Stub is a model-free detector. For each frame it seeds a PRNG with the
// frame sequence number, so the output for a given frame is fully
// deterministic: the same sequence number always yields the same
// detections, run after run.
type Stub struct {
	labels      []string
	maxPerFrame int
}

// NewStub creates a stub detector. Nil labels selects DefaultLabels;
// maxPerFrame < 1 selects DefaultMaxPerFrame.
func NewStub(labels []string, maxPerFrame int) *Stub {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	if maxPerFrame < 1 {
		maxPerFrame = DefaultMaxPerFrame
	}
	return &Stub{labels: labels, maxPerFrame: maxPerFrame}
}

// Detect emits 0..maxPerFrame synthetic detections for the frame.
func (s *Stub) Detect(frame iface.Frame) ([]iface.Detection, error) {
	rng := rand.New(rand.NewSource(int64(frame.Seq)))
	n := rng.Intn(s.maxPerFrame + 1)
	dets := make([]iface.Detection, 0, n)
	for i := 0; i < n; i++ {
		label := s.labels[rng.Intn(len(s.labels))]
		conf := 0.5 + rng.Float32()*0.5
		// Keep the whole box inside the frame: size first, then center
		// constrained to [size/2, 1-size/2].
		w := 0.05 + rng.Float32()*0.3
		h := 0.05 + rng.Float32()*0.3
		cx := w/2 + rng.Float32()*(1-w)
		cy := h/2 + rng.Float32()*(1-h)
		d, err := iface.NewDetection(label, conf, cx, cy, w, h)
		if err != nil {
			// Generator stays inside the valid ranges; a violation here
			// is a bug in the generator itself.
			return nil, err
		}
		dets = append(dets, d)
	}
	return dets, nil
}
