package sink

import (
	"encoding/json"
	"fmt"
	"time"

	iface "VisionFlow/interface"
)

// batchPayload is the wire shape for forwarded batches. Pixel data stays
// local; only frame metadata and detections cross the transport.
type batchPayload struct {
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Detections []iface.Detection `json:"detections"`
	ElapsedMs  float64           `json:"elapsedMs"`
}

// Forward emits each batch through a transport collaborator, typically to
// a downstream dataflow node.
type Forward struct {
	transport iface.Transport
}

// NewForward wraps the given transport.
func NewForward(t iface.Transport) (*Forward, error) {
	if t == nil {
		return nil, fmt.Errorf("nil transport")
	}
	return &Forward{transport: t}, nil
}

// Consume implements iface.Sink. A refused delivery is an error so the
// pipeline can report it, but the flow keeps going.
func (f *Forward) Consume(batch iface.DetectionBatch) error {
	payload, err := json.Marshal(batchPayload{
		Seq:        batch.Seq(),
		Timestamp:  batch.Frame.Timestamp,
		Width:      batch.Frame.Width,
		Height:     batch.Frame.Height,
		Detections: batch.Detections,
		ElapsedMs:  float64(batch.Elapsed.Microseconds()) / 1000.0,
	})
	if err != nil {
		return fmt.Errorf("encode batch %d: %w", batch.Seq(), err)
	}
	if !f.transport.Deliver(payload) {
		return fmt.Errorf("transport refused batch %d", batch.Seq())
	}
	return nil
}
