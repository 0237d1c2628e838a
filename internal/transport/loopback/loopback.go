// Package loopback implements natbus.Adapter entirely in-process, for
// tests and for simulating a Miniserver counterpart without real CAN
// hardware attached.
package loopback

import (
	"context"
	"sync"

	"natlinkd/pkg/natbus"
)

// Bus is a shared in-process CAN bus: every frame a Port sends is
// delivered to every other Port attached to the same Bus, mirroring a
// real CAN bus's broadcast semantics.
type Bus struct {
	mu    sync.Mutex
	ports []*Port
}

// NewBus returns an empty shared bus.
func NewBus() *Bus { return &Bus{} }

// Port is one endpoint on a loopback Bus; it implements natbus.Adapter.
type Port struct {
	bus *Bus

	mu       sync.Mutex
	running  bool
	recvSeq  uint64
	inbound  chan natbus.InboundFrame
	outbound chan natbus.CanFrame
}

// NewPort attaches a new port to bus.
func (b *Bus) NewPort() *Port {
	p := &Port{
		bus:      b,
		inbound:  make(chan natbus.InboundFrame, 256),
		outbound: make(chan natbus.CanFrame, 256),
	}
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()
	return p
}

// Send fans frame out to every other port on the bus, stamping it with
// each receiving port's own monotonic sequence number, so a port sees no
// gaps from frames it did not receive (spec section 6: sequence numbers
// are adapter-assigned, not device-assigned).
func (p *Port) Send(ctx context.Context, frame natbus.CanFrame) error {
	p.bus.mu.Lock()
	recipients := make([]*Port, 0, len(p.bus.ports))
	for _, other := range p.bus.ports {
		if other != p {
			recipients = append(recipients, other)
		}
	}
	p.bus.mu.Unlock()

	select {
	case p.outbound <- frame:
	default:
	}

	for _, other := range recipients {
		other.mu.Lock()
		if !other.running {
			other.mu.Unlock()
			continue
		}
		other.recvSeq++
		seq := other.recvSeq
		other.mu.Unlock()
		select {
		case other.inbound <- natbus.InboundFrame{Frame: frame, SequenceNumber: seq}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Port) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Inbound returns the channel of frames sent by other ports on the bus.
func (p *Port) Inbound() <-chan natbus.InboundFrame { return p.inbound }

// Outbound returns the channel of frames this port has sent.
func (p *Port) Outbound() <-chan natbus.CanFrame { return p.outbound }

// StartReceive marks the port ready to receive; loopback delivery needs
// no background pump since Send delivers synchronously.
func (p *Port) StartReceive(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	return nil
}

// StopReceive marks the port no longer receiving and closes its inbound
// channel.
func (p *Port) StopReceive() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()
	close(p.inbound)
	return nil
}
