// pkg/natbus/frame.go
package natbus

import "encoding/binary"

// CanFrame is the wire-level 29-bit extended CAN frame described in spec
// section 3. SequenceNumber is assigned by the adapter, not the codec.
type CanFrame struct {
	ID             uint32
	Data           [8]byte
	SequenceNumber uint64
}

// natIDPrefix is the fixed top-5-bit pattern (0b10000) every NAT frame's
// CAN ID carries. Frames whose ID doesn't match are not NAT frames.
const (
	natIDPrefixMask  uint32 = 0xF8000000
	natIDPrefixValue uint32 = 0x10000000
	natIDServerBit   uint32 = 0x00600000
	natIDFragBit     uint32 = 0x00100000
	natIDNatShift           = 12
	natIDNatMask     uint32 = 0xFF
	natIDCmdMask     uint32 = 0xFF
)

// Direction indicates which side originated a NAT frame.
type Direction int

const (
	DirDeviceToServer Direction = iota
	DirServerToDevice
)

// Frame is a logical NAT protocol unit (spec section 3). Payload is always
// exactly 7 bytes; unused tail bytes are zero.
type Frame struct {
	NatId       byte
	DeviceId    byte
	Command     byte
	Data        [7]byte
	Direction   Direction
	Fragmented  bool
}

// B0 returns the first payload byte.
func (f Frame) B0() byte { return f.Data[0] }

// Val16 returns the little-endian u16 at payload bytes 1..3.
func (f Frame) Val16() uint16 {
	return binary.LittleEndian.Uint16(f.Data[1:3])
}

// Val32 returns the little-endian u32 at payload bytes 3..7.
func (f Frame) Val32() uint32 {
	return binary.LittleEndian.Uint32(f.Data[3:7])
}

// Encode maps a NAT frame onto a CAN frame per spec section 4.1.
func Encode(f Frame) CanFrame {
	id := natIDPrefixValue
	if f.Direction == DirServerToDevice {
		id |= natIDServerBit
	}
	if f.Fragmented {
		id |= natIDFragBit
	}
	id |= uint32(f.NatId) << natIDNatShift
	id |= uint32(f.Command)

	var cf CanFrame
	cf.ID = id
	cf.Data[0] = f.DeviceId
	copy(cf.Data[1:8], f.Data[:])
	return cf
}

// Decode maps a CAN frame back onto a NAT frame per spec section 4.1.
// It fails with ErrNotANatFrame when the top 5 ID bits aren't the NAT
// prefix; this is its only failure mode.
func Decode(cf CanFrame) (Frame, error) {
	if cf.ID&natIDPrefixMask != natIDPrefixValue {
		return Frame{}, ErrNotANatFrame
	}

	var f Frame
	f.Command = byte(cf.ID & natIDCmdMask)
	f.NatId = byte((cf.ID >> natIDNatShift) & natIDNatMask)
	f.Fragmented = cf.ID&natIDFragBit != 0
	if cf.ID&natIDServerBit == natIDServerBit {
		f.Direction = DirServerToDevice
	} else {
		f.Direction = DirDeviceToServer
	}
	f.DeviceId = cf.Data[0]
	copy(f.Data[:], cf.Data[1:8])
	return f, nil
}
