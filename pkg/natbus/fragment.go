// pkg/natbus/fragment.go
package natbus

import "encoding/binary"

// FragmentedFrame is a reassembled logical payload (spec section 3):
// exists only between a FragmentStart and the FragmentData that completes
// it, and is discarded wholesale on CRC failure.
type FragmentedFrame struct {
	NatId    byte
	DeviceId byte
	Command  byte
	Data     []byte
	Crc      uint32
}

// fragmentSession is the assembler's in-flight reassembly state. At most
// one is live per device; a new FragmentStart restarts it unconditionally.
type fragmentSession struct {
	active          bool
	originalCommand byte
	size            uint16
	expectedCrc     uint32
	buf             []byte
	natId           byte
	deviceId        byte
}

// Assembler reconstructs fragmented NAT payloads from FragmentStart/
// FragmentData frames (spec section 4.4).
type Assembler struct {
	session fragmentSession
}

// NewAssembler returns an assembler with no in-flight session.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// OnStart handles a FragmentStart frame (command 0xF0), clearing any
// previous in-flight session unconditionally.
func (a *Assembler) OnStart(f Frame) {
	a.session = fragmentSession{
		active:          true,
		originalCommand: f.Data[0],
		size:            binary.LittleEndian.Uint16(f.Data[1:3]),
		expectedCrc:     binary.LittleEndian.Uint32(f.Data[3:7]),
		buf:             make([]byte, 0, 64),
		natId:           f.NatId,
		deviceId:        f.DeviceId,
	}
}

// OnData handles a FragmentData frame (command 0xF1). It appends at most
// size-buffered bytes of the 7-byte payload. When the buffer reaches size,
// it verifies the STM32 CRC: on mismatch the session is silently dropped
// and reset (ErrFragmentCrcMismatch, no ack/nack); on match it returns the
// reassembled frame.
//
// OnData returns (frame, true, nil) once complete, (zero, false, nil) when
// more data is still expected, and (zero, false, err) on error.
func (a *Assembler) OnData(f Frame) (FragmentedFrame, bool, error) {
	s := &a.session
	if !s.active {
		return FragmentedFrame{}, false, ErrNoActiveFragmentSession
	}

	remaining := int(s.size) - len(s.buf)
	if remaining > 0 {
		n := remaining
		if n > len(f.Data) {
			n = len(f.Data)
		}
		s.buf = append(s.buf, f.Data[:n]...)
	}

	if len(s.buf) < int(s.size) {
		return FragmentedFrame{}, false, nil
	}

	got := Crc32Padded(s.buf)
	if got != s.expectedCrc {
		*s = fragmentSession{}
		return FragmentedFrame{}, false, ErrFragmentCrcMismatch
	}

	ff := FragmentedFrame{
		NatId:    s.natId,
		DeviceId: s.deviceId,
		Command:  s.originalCommand,
		Data:     append([]byte(nil), s.buf...),
		Crc:      got,
	}
	*s = fragmentSession{}
	return ff, true, nil
}

// fragmentDataChunkSize is the number of payload bytes carried per
// FragmentData frame (the NAT frame's 7-byte payload).
const fragmentDataChunkSize = 7

// BuildFragmentFrames splits (command, data) into a FragmentStart frame
// followed by as many FragmentData frames as needed, the way
// Device.sendFragmented sends them onto the bus (spec section 4.4). It is factored out so tests and
// the emitter share one implementation.
func BuildFragmentFrames(natId, deviceId, command byte, data []byte, dir Direction) []Frame {
	crc := Crc32Padded(data)
	size := uint16(len(data))

	frames := make([]Frame, 0, 2+len(data)/fragmentDataChunkSize)

	start := Frame{NatId: natId, DeviceId: deviceId, Command: CmdFragmentStart, Direction: dir, Fragmented: true}
	start.Data[0] = command
	binary.LittleEndian.PutUint16(start.Data[1:3], size)
	binary.LittleEndian.PutUint32(start.Data[3:7], crc)
	frames = append(frames, start)

	for off := 0; off < len(data); off += fragmentDataChunkSize {
		chunk := Frame{NatId: natId, DeviceId: deviceId, Command: CmdFragmentData, Direction: dir, Fragmented: true}
		n := copy(chunk.Data[:], data[off:])
		_ = n
		frames = append(frames, chunk)
	}
	// FragmentStart.size == 0 still emits exactly the start frame (spec
	// section 8 boundary behaviour); no FragmentData frames follow.
	return frames
}
