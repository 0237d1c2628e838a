// pkg/natbus/reorder.go
package natbus

import "log"

// reorderBufferCap bounds how many out-of-sequence frames a device holds
// before it starts dropping the oldest one (spec section 5).
const reorderBufferCap = 100

// reorderBuffer releases received frames to the FIFO processing queue only
// in strict ascending sequence order. It is not safe for concurrent use;
// the device's single inbound task owns it.
type reorderBuffer struct {
	nextExpected uint64
	started      bool
	pending      map[uint64]InboundFrame
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[uint64]InboundFrame)}
}

// Accept folds in a newly received frame and returns, in order, every
// frame now releasable to the processing queue.
func (r *reorderBuffer) Accept(f InboundFrame) []InboundFrame {
	if !r.started {
		r.started = true
		r.nextExpected = f.SequenceNumber
	}

	r.pending[f.SequenceNumber] = f
	if len(r.pending) > reorderBufferCap {
		r.dropOldest()
	}

	var released []InboundFrame
	for {
		next, ok := r.pending[r.nextExpected]
		if !ok {
			break
		}
		released = append(released, next)
		delete(r.pending, r.nextExpected)
		r.nextExpected++
	}
	return released
}

// dropOldest evicts the lowest-sequence pending frame and advances
// nextExpected past the resulting gap, per spec section 5/7.
func (r *reorderBuffer) dropOldest() {
	var oldest uint64
	found := false
	for seq := range r.pending {
		if !found || seq < oldest {
			oldest = seq
			found = true
		}
	}
	if !found {
		return
	}
	delete(r.pending, oldest)
	log.Printf("natbus: reorder buffer overflow, dropped frame seq=%d", oldest)

	if oldest == r.nextExpected {
		r.nextExpected++
	} else if oldest < r.nextExpected {
		return
	} else {
		// The gap at nextExpected can never be filled now that a later
		// frame has been evicted ahead of it; advance past it.
		r.nextExpected = oldest + 1
	}
}
