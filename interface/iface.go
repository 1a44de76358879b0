package iface

// Source produces timestamped frames. NextFrame blocks until the next
// frame is due (rate pacing) and returns ErrSourceExhausted once a finite
// source has produced its configured number of frames.
type Source interface {
	NextFrame() (Frame, error)
}

// Detector turns one frame into zero or more detections. An error means
// inference failed for this frame; callers fall back to an empty result
// and keep running.
type Detector interface {
	Detect(frame Frame) ([]Detection, error)
}

// Sink consumes one batch. Consume must return only after the batch is
// fully handled; a slow sink backpressures the whole pipeline.
type Sink interface {
	Consume(batch DetectionBatch) error
}

// InferenceClient is the external inference collaborator. It receives a
// frame and returns raw, unvalidated detections.
type InferenceClient interface {
	Infer(frame Frame) ([]RawDetection, error)
}

// Transport is the external message-passing collaborator. Deliver reports
// whether the payload was accepted; the wire format underneath is the
// transport's concern.
type Transport interface {
	Deliver(payload []byte) bool
}
