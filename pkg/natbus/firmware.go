// pkg/natbus/firmware.go
package natbus

import "encoding/binary"

// firmwareState is the in-device firmware update session state (spec
// section 4.7).
type firmwareState int

const (
	fwIdle firmwareState = iota
	fwReceiving
	fwReceivingCrc
	fwVerifying
	fwCompleted
	fwFailed
)

// firmwarePageSize is the page granularity the update protocol streams
// data in and CRCs per page (spec section 4.7).
const firmwarePageSize = 1024

// firmwareSession tracks an in-flight firmware update for one device. A
// device holds exactly one; concurrent updates aren't possible because
// the owning Device processes frames one at a time.
type firmwareSession struct {
	state firmwareState

	targetDeviceType uint16
	image            []byte
	currentPage      []byte
	pageCrcs         []uint32
	wholeImageCrc    uint32
}

// newFirmwareSession returns an idle session.
func newFirmwareSession() *firmwareSession {
	return &firmwareSession{state: fwIdle}
}

// firmwareResult is what a firmware sub-command handler reports back so
// handleFirmwareUpdateFrame (dispatch.go) can send the reply frame (or
// send nothing, for silent
// device-type-mismatch aborts).
type firmwareResult struct {
	replyPayload [7]byte
	hasReply     bool
}

// handle dispatches one CmdFirmwareUpdate payload to the
// firmware sub-protocol (spec section 4.7). payload[0] is the
// sub-command; layout after that depends on which one. The returned
// error is non-nil only for conditions worth logging at the dispatch
// boundary; it never changes what gets sent back on the wire.
func (s *firmwareSession) handle(payload []byte) (firmwareResult, error) {
	if len(payload) == 0 {
		return firmwareResult{}, nil
	}

	switch payload[0] {
	case FwSubData:
		return s.handleData(payload[1:])
	case FwSubCrc:
		return s.handleCrc(payload[1:])
	case FwSubVerifyUpdate:
		return s.handleVerifyUpdate(payload[1:])
	case FwSubVerifyAndRestart:
		return s.handleVerifyAndRestart()
	default:
		return firmwareResult{}, ErrUnhandledCommand
	}
}

// handleData appends a chunk to the current page. A device-type mismatch
// in the very first data chunk (the target device type this update is
// meant for, carried in the first two bytes) aborts the session silently
// — no reply frame at all (spec section 4.7 edge case).
func (s *firmwareSession) handleData(payload []byte) (firmwareResult, error) {
	if s.state == fwIdle {
		s.state = fwReceiving
		s.image = s.image[:0]
	}
	if s.state != fwReceiving {
		s.state = fwFailed
		return firmwareResult{}, ErrFirmwareWrongPhase
	}
	if len(payload) >= 2 && len(s.image) == 0 {
		declaredType := binary.LittleEndian.Uint16(payload[0:2])
		if s.targetDeviceType != 0 && declaredType != s.targetDeviceType {
			s.state = fwFailed
			return firmwareResult{}, ErrFirmwareDeviceTypeMismatch
		}
	}
	s.currentPage = append(s.currentPage, payload...)
	s.image = append(s.image, payload...)
	if len(s.currentPage) >= firmwarePageSize {
		s.pageCrcs = append(s.pageCrcs, Crc32Padded(s.currentPage))
		s.currentPage = s.currentPage[:0]
	}
	return firmwareResult{}, nil
}

// handleCrc receives the per-page CRC the Miniserver computed for the
// page just streamed and compares it against ours; a mismatch fails the
// session (spec section 4.7).
func (s *firmwareSession) handleCrc(payload []byte) (firmwareResult, error) {
	if s.state != fwReceiving || len(payload) < 4 {
		s.state = fwFailed
		return firmwareResult{replyPayload: [7]byte{FwReplyFail}, hasReply: true}, ErrFirmwareWrongPhase
	}
	s.state = fwReceivingCrc

	if len(s.currentPage) > 0 {
		s.pageCrcs = append(s.pageCrcs, Crc32Padded(s.currentPage))
		s.currentPage = s.currentPage[:0]
	}

	want := binary.LittleEndian.Uint32(payload[0:4])
	if len(s.pageCrcs) == 0 || s.pageCrcs[len(s.pageCrcs)-1] != want {
		s.state = fwFailed
		return firmwareResult{replyPayload: [7]byte{FwReplyFail}, hasReply: true}, nil
	}
	s.state = fwReceiving
	return firmwareResult{replyPayload: [7]byte{FwReplyOK}, hasReply: true}, nil
}

// handleVerifyUpdate verifies the whole-image CRC the Miniserver supplies
// against what was actually received, and moves into fwVerifying.
func (s *firmwareSession) handleVerifyUpdate(payload []byte) (firmwareResult, error) {
	if len(payload) < 4 {
		s.state = fwFailed
		return firmwareResult{replyPayload: [7]byte{FwReplyFail}, hasReply: true}, ErrFirmwareWrongPhase
	}
	s.state = fwVerifying
	want := binary.LittleEndian.Uint32(payload[0:4])
	got := Crc32Padded(s.image)
	s.wholeImageCrc = got
	if got != want {
		s.state = fwFailed
		return firmwareResult{replyPayload: [7]byte{FwReplyFail}, hasReply: true}, nil
	}
	s.state = fwCompleted
	return firmwareResult{replyPayload: [7]byte{FwReplyOK}, hasReply: true}, nil
}

// handleVerifyAndRestart finalises a completed update; any state other
// than fwCompleted replies fail.
func (s *firmwareSession) handleVerifyAndRestart() (firmwareResult, error) {
	if s.state != fwCompleted {
		s.state = fwFailed
		return firmwareResult{replyPayload: [7]byte{FwReplyFail}, hasReply: true}, ErrFirmwareWrongPhase
	}
	result := firmwareResult{replyPayload: [7]byte{FwReplyOK}, hasReply: true}
	*s = *newFirmwareSession()
	return result, nil
}
