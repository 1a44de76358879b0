package detector

import (
	"fmt"

	iface "VisionFlow/interface"
)

// Model adapts an external inference backend into the Detection contract.
// It does no inference itself: raw results are converted to normalized
// coordinates, confidences are clamped into [0,1], and entries without a
// label are discarded.
type Model struct {
	client iface.InferenceClient
}

// NewModel wraps the given inference collaborator.
func NewModel(client iface.InferenceClient) (*Model, error) {
	if client == nil {
		return nil, fmt.Errorf("nil inference client")
	}
	return &Model{client: client}, nil
}

// Detect runs the collaborator on the frame and validates its output.
// A collaborator error is returned as-is; the pipeline treats it as
// non-fatal and substitutes an empty result.
func (m *Model) Detect(frame iface.Frame) ([]iface.Detection, error) {
	raws, err := m.client.Infer(frame)
	if err != nil {
		return nil, fmt.Errorf("inference failed for frame %d: %w", frame.Seq, err)
	}
	dets := make([]iface.Detection, 0, len(raws))
	for _, r := range raws {
		d, ok := adapt(r, frame.Width, frame.Height)
		if ok {
			dets = append(dets, d)
		}
	}
	return dets, nil
}

// adapt converts one raw detection into the validated contract. Pixel
// coordinates are normalized against the frame size; everything is
// clamped into [0,1]. Returns false for entries that cannot be repaired
// (empty label, zero-sized frame for pixel input).
func adapt(r iface.RawDetection, width, height int) (iface.Detection, bool) {
	if r.Label == "" {
		return iface.Detection{}, false
	}
	cx, cy, w, h := r.CX, r.CY, r.W, r.H
	if !r.Normalized {
		if width <= 0 || height <= 0 {
			return iface.Detection{}, false
		}
		cx /= float32(width)
		cy /= float32(height)
		w /= float32(width)
		h /= float32(height)
	}
	d, err := iface.NewDetection(
		r.Label,
		clamp01(r.Confidence),
		clamp01(cx),
		clamp01(cy),
		clamp01(w),
		clamp01(h),
	)
	if err != nil {
		return iface.Detection{}, false
	}
	return d, true
}
