package iface

import (
	"errors"
	"time"
)

// Sentinel errors shared across the pipeline packages.
var (
	ErrSourceExhausted  = errors.New("frame source exhausted")
	ErrInvalidDetection = errors.New("detection fields out of range")
)

// Frame is a single captured image. Data is owned by the frame and must
// not be modified after the frame leaves its producer; stages share it by
// reference only.
type Frame struct {
	// Seq is strictly increasing per source, starting at 1.
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Data is the raw pixel buffer, BGR24 row-major (Width*Height*3 bytes).
	Data []byte
}

// Detection is one recognized object within a frame. Box coordinates are
// the center point and size, normalized to [0,1] relative to the frame.
type Detection struct {
	Label      string  `json:"name"`
	Confidence float32 `json:"confidence"`
	CX         float32 `json:"x"`
	CY         float32 `json:"y"`
	W          float32 `json:"width"`
	H          float32 `json:"height"`
}

// NewDetection validates the detection invariants at construction:
// non-empty label, confidence and all box fields inside [0,1].
func NewDetection(label string, conf, cx, cy, w, h float32) (Detection, error) {
	if label == "" {
		return Detection{}, ErrInvalidDetection
	}
	for _, v := range [5]float32{conf, cx, cy, w, h} {
		if v < 0.0 || v > 1.0 {
			return Detection{}, ErrInvalidDetection
		}
	}
	return Detection{Label: label, Confidence: conf, CX: cx, CY: cy, W: w, H: h}, nil
}

// RawDetection is unvalidated inference output as returned by an external
// backend. Coordinates may be in pixel space (Normalized=false); the model
// adapter converts and clamps them into a Detection.
type RawDetection struct {
	Label      string  `json:"name"`
	Confidence float32 `json:"confidence"`
	CX         float32 `json:"x"`
	CY         float32 `json:"y"`
	W          float32 `json:"width"`
	H          float32 `json:"height"`
	Normalized bool    `json:"normalized"`
}

// DetectionBatch pairs one frame with the detections found in it. A batch
// is consumed exactly once by a sink and discarded afterwards.
type DetectionBatch struct {
	Frame      Frame
	Detections []Detection
	// Elapsed is the detector processing time for this frame.
	Elapsed time.Duration
}

// Seq returns the sequence number of the underlying frame.
func (b DetectionBatch) Seq() uint64 {
	return b.Frame.Seq
}
