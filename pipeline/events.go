package pipeline

import "time"

// eventBuffer bounds the observability stream; events beyond it are dropped.
const eventBuffer = 64

// EventKind classifies observability events.
type EventKind int

const (
	// EventStateChange reports a lifecycle transition; State carries the
	// new state and Err the drain reason, if any.
	EventStateChange EventKind = iota
	// EventInferenceError reports a non-fatal detector failure; the frame
	// went through with an empty batch.
	EventInferenceError
	// EventSinkError reports a sink that rejected a batch.
	EventSinkError
	// EventTimeout reports a stalled stage read.
	EventTimeout
)

// Event is one observability record emitted by the pipeline.
type Event struct {
	Kind  EventKind
	State int
	Seq   uint64
	Err   error
	At    time.Time
}
