// pkg/natbus/transport.go
package natbus

import "context"

// InboundFrame pairs a received CAN frame with the adapter-assigned
// monotonic sequence number spec section 6 requires.
type InboundFrame struct {
	Frame          CanFrame
	SequenceNumber uint64
}

// Adapter is the only boundary the core depends on (spec section 6): the
// CAN transport itself — byte-level USB-CAN bridge framing, an OS raw-CAN
// socket, or anything else — is an external collaborator. Implementations
// must make Send safe for concurrent callers.
type Adapter interface {
	// Send transmits a single 8-byte CAN frame. Safe for concurrent use.
	Send(ctx context.Context, frame CanFrame) error

	// Inbound returns a channel of received frames, each carrying a
	// monotonically increasing SequenceNumber (gaps only on known drops
	// at the adapter). Closed when the adapter stops.
	Inbound() <-chan InboundFrame

	// Outbound returns a channel of frames this adapter has sent, for
	// sniffer-style consumers. May be nil if unsupported.
	Outbound() <-chan CanFrame

	// StartReceive begins delivering frames on Inbound.
	StartReceive(ctx context.Context) error

	// StopReceive halts delivery and releases adapter resources.
	StopReceive() error
}
