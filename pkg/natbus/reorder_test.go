package natbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mkInbound(seq uint64) InboundFrame {
	return InboundFrame{SequenceNumber: seq}
}

func TestReorderBufferReleasesInOrder(t *testing.T) {
	r := newReorderBuffer()

	released := r.Accept(mkInbound(5))
	assert.Len(t, released, 1, "first-ever frame establishes the baseline and releases immediately")

	released = r.Accept(mkInbound(7))
	assert.Empty(t, released, "seq 6 hasn't arrived yet")

	released = r.Accept(mkInbound(6))
	assert.Len(t, released, 2, "6 and the buffered 7 both release once the gap closes")
	assert.Equal(t, uint64(6), released[0].SequenceNumber)
	assert.Equal(t, uint64(7), released[1].SequenceNumber)
}

func TestReorderBufferDropsOldestOnOverflow(t *testing.T) {
	r := newReorderBuffer()
	r.Accept(mkInbound(0))

	// Fill with out-of-order frames past the gap at seq=1, well beyond cap.
	for seq := uint64(2); seq < 2+reorderBufferCap+5; seq++ {
		r.Accept(mkInbound(seq))
	}

	assert.LessOrEqual(t, len(r.pending), reorderBufferCap, "buffer must never exceed its cap")
}

func TestReorderBufferAdvancesPastUnfillableGap(t *testing.T) {
	r := newReorderBuffer()
	r.Accept(mkInbound(100))

	for i := 0; i < reorderBufferCap+10; i++ {
		r.Accept(mkInbound(uint64(102 + i)))
	}

	// seq 101 can never arrive now that the buffer evicted frames ahead of
	// it to stay within cap; nextExpected must have moved past the gap.
	assert.Greater(t, r.nextExpected, uint64(101))
}
