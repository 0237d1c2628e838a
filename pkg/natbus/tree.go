// pkg/natbus/tree.go
package natbus

import (
	"context"
	"encoding/binary"
	"log"
	"time"
)

// Extension is a top-level emulated device that owns a CAN adapter and,
// for Tree base extensions, a set of child Tree devices reachable only
// through it (spec section 4.8). A plain extension (e.g. the digital
// input extension) has no children and DeviceId is always 0 for frames
// addressed to it.
type Extension struct {
	Self *Device

	adapter Adapter
	natId   byte // UnassignedNatId until a NatOfferConfirm assigns one

	children map[byte]*TreeDevice // keyed by DeviceId (the child's NAT sub-address)
	order    []byte               // stable iteration order for broadcast/offer cascade

	reorder *reorderBuffer
}

// TreeDevice is a device hanging off a Tree extension's bus branch. It
// borrows its parent's adapter and NatId; it never sends directly.
type TreeDevice struct {
	Self   *Device
	Parent *Extension
}

// NewExtension constructs an Extension bound to adapter, with self as the
// device engine answering frames addressed to DeviceId 0.
func NewExtension(adapter Adapter, identity DeviceIdentity, crypto *CryptoConfig, concrete ConcreteDevice) *Extension {
	ext := &Extension{
		adapter:  adapter,
		natId:    UnassignedNatId,
		children: make(map[byte]*TreeDevice),
		reorder:  newReorderBuffer(),
	}
	ext.Self = NewDevice(identity, crypto, concrete, 0, ext.NatId, ext.send, nil)
	ext.Self.OnNatIdAssigned = ext.AssignNatId
	return ext
}

// NatId returns the extension's currently assigned NAT slot.
func (e *Extension) NatId() byte { return e.natId }

// AddChild attaches a Tree device at deviceId, borrowing this extension's
// adapter and NatId (spec section 4.8 ownership: "a Tree device borrows
// its parent extension's send interface and NatId").
func (e *Extension) AddChild(deviceId byte, identity DeviceIdentity, crypto *CryptoConfig, concrete ConcreteDevice) *TreeDevice {
	td := &TreeDevice{Parent: e}
	td.Self = NewDevice(identity, crypto, concrete, deviceId, e.NatId, e.send, td.canOperate)
	e.children[deviceId] = td
	e.order = append(e.order, deviceId)
	return td
}

func (td *TreeDevice) canOperate() bool {
	return td.Parent.Self.State() == StateOnline
}

// send transmits one NAT frame via the owned adapter. Both the
// extension's own Device and every child TreeDevice's Device call this
// through the closure handed to NewDevice/AddChild.
func (e *Extension) send(ctx context.Context, f Frame) error {
	return e.adapter.Send(ctx, Encode(f))
}

// Run starts the extension's own processing loop, every child's
// processing loop, and the adapter ingress pump that decodes, reorders,
// and routes inbound frames (spec section 5).
func (e *Extension) Run(ctx context.Context) error {
	if err := e.adapter.StartReceive(ctx); err != nil {
		return err
	}

	go e.Self.Run(ctx)
	for _, id := range e.order {
		go e.children[id].Self.Run(ctx)
	}

	inbound := e.adapter.Inbound()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			for _, released := range e.reorder.Accept(raw) {
				f, err := Decode(released.Frame)
				if err != nil {
					continue
				}
				e.route(f)
			}
		}
	}
}

// Stop halts every owned device's processing task and releases the
// adapter (spec section 5 shutdown sequence).
func (e *Extension) Stop() error {
	e.Self.Stop()
	for _, id := range e.order {
		e.children[id].Self.Stop()
	}
	return e.adapter.StopReceive()
}

// route applies the Tree addressing filter and hands the frame to every
// device it's meant for (spec section 4.8):
//   - DeviceId 0x00 targets the extension itself.
//   - DeviceId 0xFF (BroadcastDeviceId) targets the extension and every
//     child, extension first.
//   - Any other DeviceId targets exactly the matching child, if any.
//   - A NatOfferConfirm whose data[3..7] serial belongs to a child (and
//     not to the extension itself) goes to that child only, whatever its
//     DeviceId.
//
// A frame whose NatId doesn't match this extension's current slot (and
// isn't the broadcast NatId used for unassigned discovery frames) is not
// for this extension at all and is dropped.
func (e *Extension) route(f Frame) {
	if f.NatId != e.natId && f.NatId != BroadcastNatId {
		return
	}

	if f.Command == CmdNatOfferConfirm {
		serial := binary.LittleEndian.Uint32(f.Data[3:7])
		if serial != e.Self.Identity.Serial {
			for _, id := range e.order {
				if child := e.children[id]; child.Self.Identity.Serial == serial {
					child.Self.Enqueue(f)
					return
				}
			}
		}
	}

	switch f.DeviceId {
	case 0:
		e.Self.Enqueue(f)
	case BroadcastDeviceId:
		e.Self.Enqueue(f)
		for _, id := range e.order {
			e.children[id].Self.Enqueue(f)
		}
	default:
		if child, ok := e.children[f.DeviceId]; ok {
			child.Self.Enqueue(f)
		}
	}
}

// offerCascadeSpacing is the inter-device delay the Tree base extension
// waits between asking successive children to (re-)announce themselves
// in response to an IdentifyUnknown broadcast (spec section 4.8).
const offerCascadeSpacing = 50 * time.Millisecond

// PropagateIdentifyUnknown re-arms offer emission on every child in
// sequence, spaced out so the bus doesn't see a burst of simultaneous
// NatOfferRequest frames (spec section 4.8).
func (e *Extension) PropagateIdentifyUnknown(ctx context.Context) {
	for _, id := range e.order {
		child := e.children[id]
		child.Self.mu.Lock()
		child.Self.lc.OnIdentifyUnknown()
		child.Self.mu.Unlock()

		select {
		case <-time.After(offerCascadeSpacing):
		case <-ctx.Done():
			return
		}
	}
}

// ChildrenSnapshot returns a copy of the current DeviceId -> TreeDevice
// map, for read-only reporting surfaces.
func (e *Extension) ChildrenSnapshot() map[byte]*TreeDevice {
	out := make(map[byte]*TreeDevice, len(e.children))
	for id, td := range e.children {
		out[id] = td
	}
	return out
}

// AssignNatId applies a confirmed NAT slot to this extension; children
// inherit it automatically since their NatId closures read e.natId.
func (e *Extension) AssignNatId(id byte) {
	e.natId = id
	log.Printf("natbus: extension serial=%d assigned NatId=0x%02x", e.Self.Identity.Serial, id)
}
