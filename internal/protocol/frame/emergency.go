package frame

import (
	"io"
	"sync/atomic"
)

// Emergency holds an exception frame encoded ahead of time so it can be written
// from a fault path without allocating or locking.
//
// Delivery is best-effort: Fire races with any write already in progress on the
// same stream and the peer may see the frame spliced into a partial message.
type Emergency struct {
	w     io.Writer
	frame []byte
	fired atomic.Bool
}

// NewEmergency pre-encodes a FaultType exception carrying message.
func NewEmergency(w io.Writer, message string) *Emergency {
	return &Emergency{
		w:     w,
		frame: AppendException(nil, FaultType, message),
	}
}

// Fire writes the frame once. Later calls are no-ops.
func (e *Emergency) Fire() error {
	if e == nil || !e.fired.CompareAndSwap(false, true) {
		return nil
	}
	_, err := e.w.Write(e.frame)
	return err
}

// Bytes returns the pre-encoded frame.
func (e *Emergency) Bytes() []byte {
	return e.frame
}
