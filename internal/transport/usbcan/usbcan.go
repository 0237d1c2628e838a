// Package usbcan implements natbus.Adapter over a USB-CAN bridge using
// direct USB bulk transfers, bypassing any kernel CAN driver the way the
// teacher's USBDevice bypasses the ASIC's kernel module.
package usbcan

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/gousb"

	"natlinkd/pkg/natbus"
)

// wireFrameSize is the on-the-wire encoding of one CAN frame the bridge
// speaks: a 4-byte little-endian 29-bit extended ID followed by the
// 8-byte data payload.
const wireFrameSize = 12

// Adapter talks to a USB-CAN bridge adapter by vendor/product ID,
// claiming a single bulk IN/OUT endpoint pair.
type Adapter struct {
	vendorID, productID gousb.ID

	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	mu       sync.Mutex
	seq      uint64
	inbound  chan natbus.InboundFrame
	outbound chan natbus.CanFrame
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Open opens the bridge adapter identified by vid/pid and claims its
// bulk endpoints (spec section 6: the Adapter implementation is an
// external collaborator, free to use whatever transport fits).
func Open(vid, pid gousb.ID, epOut, epIn gousb.EndpointAddress) (*Adapter, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbcan: open device: %w", err)
	}
	if device == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbcan: device not found (VID:0x%04x PID:0x%04x)", vid, pid)
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbcan: set config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbcan: claim interface: %w", err)
	}

	out, err := intf.OutEndpoint(int(epOut))
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbcan: open OUT endpoint: %w", err)
	}

	in, err := intf.InEndpoint(int(epIn))
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbcan: open IN endpoint: %w", err)
	}

	log.Printf("usbcan: opened bridge VID:0x%04x PID:0x%04x", vid, pid)

	return &Adapter{
		vendorID: vid, productID: pid,
		ctx: ctx, device: device, config: config, intf: intf,
		epOut: out, epIn: in,
		inbound:  make(chan natbus.InboundFrame, 256),
		outbound: make(chan natbus.CanFrame, 256),
	}, nil
}

// Send transmits one CAN frame over the bulk OUT endpoint.
func (a *Adapter) Send(ctx context.Context, frame natbus.CanFrame) error {
	buf := make([]byte, wireFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], frame.ID)
	copy(buf[4:12], frame.Data[:])

	if _, err := a.epOut.WriteContext(ctx, buf); err != nil {
		return fmt.Errorf("usbcan: write: %w", err)
	}
	select {
	case a.outbound <- frame:
	default:
	}
	return nil
}

// Inbound returns the channel of received frames.
func (a *Adapter) Inbound() <-chan natbus.InboundFrame { return a.inbound }

// Outbound returns the channel of transmitted frames, for sniffer-style
// consumers.
func (a *Adapter) Outbound() <-chan natbus.CanFrame { return a.outbound }

// StartReceive launches the read pump goroutine.
func (a *Adapter) StartReceive(ctx context.Context) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.readLoop(pumpCtx)
	return nil
}

// StopReceive halts the read pump and releases USB resources.
func (a *Adapter) StopReceive() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	close(a.inbound)

	if a.intf != nil {
		a.intf.Close()
	}
	if a.config != nil {
		a.config.Close()
	}
	if a.device != nil {
		a.device.Close()
	}
	if a.ctx != nil {
		a.ctx.Close()
	}
	return nil
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	buf := make([]byte, wireFrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		n, err := a.epIn.ReadContext(readCtx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if n < wireFrameSize {
			continue
		}

		var cf natbus.CanFrame
		cf.ID = binary.LittleEndian.Uint32(buf[0:4])
		copy(cf.Data[:], buf[4:12])

		a.mu.Lock()
		cf.SequenceNumber = a.seq
		a.seq++
		a.mu.Unlock()

		select {
		case a.inbound <- natbus.InboundFrame{Frame: cf, SequenceNumber: cf.SequenceNumber}:
		case <-ctx.Done():
			return
		}
	}
}
